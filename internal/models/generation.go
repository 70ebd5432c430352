package models

import (
	"time"

	"gorm.io/datatypes"
)

// GenerationStatus represents the terminal state of a dispatch.
type GenerationStatus int

// GenerationStatus constants define dispatch outcomes.
const (
	// GenerationStatusSucceeded marks a completed synchronous generation.
	GenerationStatusSucceeded GenerationStatus = 1
	// GenerationStatusPending marks an asynchronously accepted generation.
	GenerationStatusPending GenerationStatus = 2
	// GenerationStatusFailed marks a generation that exhausted or aborted its chain.
	GenerationStatusFailed GenerationStatus = 3
)

// Generation records one dispatch request and its terminal outcome.
type Generation struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RequestID string `gorm:"type:varchar(255);not null;uniqueIndex"` // Caller-supplied idempotency key.

	AccountID uint64        `gorm:"not null;index"`       // Related credit account ID.
	Account   CreditAccount `gorm:"foreignKey:AccountID"` // Related credit account record.

	Tier     Tier     `gorm:"type:varchar(16);not null"`       // Requesting tier.
	Modality Modality `gorm:"type:varchar(16);not null;index"` // Generation kind.

	ModelID *uint64 `gorm:"index"` // Catalog model that served the request, if any.

	Status         GenerationStatus `gorm:"not null;index"`     // Terminal outcome.
	FailureReason  string           `gorm:"type:text"`          // Terminal failure reason, if failed.
	Attempts       datatypes.JSON   `gorm:"type:jsonb"`         // Per-candidate attempt log.
	JobID          string           `gorm:"type:varchar(255)"`  // Provider job ID for pending outcomes.
	CreditsCharged int64            `gorm:"not null;default:0"` // Credits deducted for this request.
	LatencyMillis  int64            `gorm:"not null;default:0"` // End-to-end dispatch latency.

	RequestedAt time.Time `gorm:"not null;index"`          // Request receipt time.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
