package models

import (
	"encoding/json"
	"time"
)

// Setting stores one JSON-valued configuration entry keyed by name.
type Setting struct {
	Key       string          `gorm:"primaryKey;type:varchar(255)"` // Setting key.
	Value     json.RawMessage `gorm:"type:jsonb"`                   // JSON value payload.
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime"`      // Last update timestamp.
}
