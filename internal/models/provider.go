package models

import "time"

// Provider represents one external generative-AI service.
type Provider struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Slug    string `gorm:"type:varchar(64);not null;uniqueIndex"` // Stable provider identifier.
	Name    string `gorm:"type:varchar(255);not null"`            // Display name.
	BaseURL string `gorm:"type:text"`                             // API base URL.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the provider may be invoked.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
