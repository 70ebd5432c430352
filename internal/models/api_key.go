package models

import "time"

// APIKey authenticates a caller on the generation surface and binds it
// to one credit account.
type APIKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID uint64        `gorm:"not null;index"`       // Owning credit account ID.
	Account   CreditAccount `gorm:"foreignKey:AccountID"` // Owning credit account record.

	Token string `gorm:"type:varchar(128);not null;uniqueIndex"` // Bearer token value.
	Name  string `gorm:"type:varchar(255)"`                      // Display label.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the key may be used.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
