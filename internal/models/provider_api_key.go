package models

import (
	"time"

	"gorm.io/datatypes"
)

// ProviderAPIKey stores upstream provider credentials for dispatch.
type ProviderAPIKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProviderID uint64   `gorm:"not null;index"`        // Related provider ID.
	Provider   Provider `gorm:"foreignKey:ProviderID"` // Related provider record.

	Priority int    `gorm:"not null;default:0;index"` // Selection priority (lower tried first).
	Name     string `gorm:"type:text"`                // Display name.
	APIKey   string `gorm:"type:text;not null"`       // Provider API key.
	BaseURL  string `gorm:"type:text"`                // Base URL override.

	Headers datatypes.JSON `gorm:"type:jsonb"` // Extra request headers.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the key may be used.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
