package models

import "time"

// Admin represents an operator account for the admin API.
type Admin struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username     string `gorm:"type:varchar(255);not null;uniqueIndex"` // Login name.
	PasswordHash string `gorm:"type:text;not null"`                     // bcrypt password hash.
	TOTPSecret   string `gorm:"type:text"`                              // Optional TOTP secret; empty disables TOTP.

	Active bool `gorm:"not null;default:true"` // Whether the admin may log in.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
