package models

import "time"

// Model represents one callable unit of generation capability in the catalog.
type Model struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProviderID uint64   `gorm:"not null;index;uniqueIndex:idx_models_provider_model_modality"`                  // Related provider ID.
	Provider   Provider `gorm:"foreignKey:ProviderID"`                                                          // Related provider record.
	ModelID    string   `gorm:"type:varchar(255);not null;uniqueIndex:idx_models_provider_model_modality"`      // Provider-specific model identifier.
	Modality   Modality `gorm:"type:varchar(16);not null;index;uniqueIndex:idx_models_provider_model_modality"` // Generation kind.

	CreditCost int64 `gorm:"not null;default:0"` // Credits charged per successful invocation.

	IsActive  bool `gorm:"not null;default:true"`  // Whether the model may be selected.
	IsDefault bool `gorm:"not null;default:false"` // Whether this is the modality's default model.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsFree reports whether invocations of this model bypass credit accounting.
func (m *Model) IsFree() bool { return m.CreditCost == 0 }
