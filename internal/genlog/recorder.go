// Package genlog persists generation request records for auditing.
package genlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modo-studio/modo-dispatch/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Attempt is one candidate tried (or skipped) while serving a request.
type Attempt struct {
	ModelID       uint64 `json:"model_id"`
	Model         string `json:"model"`
	Provider      string `json:"provider"`
	Outcome       string `json:"outcome"`
	Reason        string `json:"reason,omitempty"`
	LatencyMillis int64  `json:"latency_ms,omitempty"`
}

// Record is the terminal state of one dispatched generation request.
type Record struct {
	RequestID      string
	AccountID      uint64
	Tier           models.Tier
	Modality       models.Modality
	ModelID        *uint64
	Status         models.GenerationStatus
	FailureReason  string
	Attempts       []Attempt
	JobID          string
	CreditsCharged int64
	LatencyMillis  int64
	RequestedAt    time.Time
}

// Recorder writes generation records to the database.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder constructs a Recorder.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record persists one generation record. Persistence failures are logged and
// swallowed; a lost audit row must never fail the caller's request.
func (r *Recorder) Record(ctx context.Context, rec Record) {
	if r == nil || r.db == nil {
		return
	}

	attempts, errEncode := json.Marshal(rec.Attempts)
	if errEncode != nil {
		attempts = []byte("[]")
	}
	row := models.Generation{
		RequestID:      rec.RequestID,
		AccountID:      rec.AccountID,
		Tier:           rec.Tier,
		Modality:       rec.Modality,
		ModelID:        rec.ModelID,
		Status:         rec.Status,
		FailureReason:  rec.FailureReason,
		Attempts:       attempts,
		JobID:          rec.JobID,
		CreditsCharged: rec.CreditsCharged,
		LatencyMillis:  rec.LatencyMillis,
		RequestedAt:    rec.RequestedAt,
	}
	if errCreate := r.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithField("request_id", rec.RequestID).Warn("genlog: record failed")
	}
}

// ListByAccount returns the most recent generation records for one account.
func (r *Recorder) ListByAccount(ctx context.Context, accountID uint64, limit int) ([]models.Generation, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	var rows []models.Generation
	errFind := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, errFind
}
