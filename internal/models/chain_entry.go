package models

import "time"

// ChainEntry is one ranked candidate within a tier/modality fallback chain.
type ChainEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Tier     Tier     `gorm:"type:varchar(16);not null;uniqueIndex:idx_chain_entries_tier_modality_priority"` // Tier scope (TierAll for shared defaults).
	Modality Modality `gorm:"type:varchar(16);not null;uniqueIndex:idx_chain_entries_tier_modality_priority"` // Generation kind.
	Priority int      `gorm:"not null;uniqueIndex:idx_chain_entries_tier_modality_priority"`                  // Ascending try order, 1 = primary.

	ModelID uint64 `gorm:"not null;index"`     // Related catalog model ID.
	Model   Model  `gorm:"foreignKey:ModelID"` // Related catalog model record.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
