package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"gorm.io/gorm"
)

// GenerationLister reads generation records for one account.
type GenerationLister interface {
	ListByAccount(ctx context.Context, accountID uint64, limit int) ([]models.Generation, error)
}

// AccountHandler serves the caller's own account and history views.
type AccountHandler struct {
	db     *gorm.DB         // Database handle for per-record lookups.
	lister GenerationLister // Generation record reader.
}

// NewAccountHandler constructs an account handler.
func NewAccountHandler(db *gorm.DB, lister GenerationLister) *AccountHandler {
	return &AccountHandler{db: db, lister: lister}
}

// Get returns the authenticated account's balance and tier.
func (h *AccountHandler) Get(c *gin.Context) {
	account, okAccount := accountFromContext(c)
	if !okAccount {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing account"})
		return
	}

	// Re-read so the balance reflects deductions made since auth.
	var fresh models.CreditAccount
	if errFind := h.db.WithContext(c.Request.Context()).First(&fresh, "id = ?", account.ID).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account_key":       fresh.AccountKey,
		"tier":              fresh.Tier,
		"balance":           fresh.Balance,
		"monthly_allowance": fresh.MonthlyAllowance,
		"used_this_month":   fresh.UsedThisMonth,
	})
}

// ListGenerations returns the account's recent generation records.
func (h *AccountHandler) ListGenerations(c *gin.Context) {
	account, okAccount := accountFromContext(c)
	if !okAccount {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing account"})
		return
	}

	limit := 50
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if parsed, errParse := strconv.Atoi(raw); errParse == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	rows, errList := h.lister.ListByAccount(c.Request.Context(), account.ID, limit)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list generations failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatOwnGeneration(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"generations": out})
}

// GetGeneration returns one of the account's generation records.
func (h *AccountHandler) GetGeneration(c *gin.Context) {
	account, okAccount := accountFromContext(c)
	if !okAccount {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing account"})
		return
	}

	requestID := strings.TrimSpace(c.Param("request_id"))
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request_id"})
		return
	}

	var row models.Generation
	errFind := h.db.WithContext(c.Request.Context()).
		Where("request_id = ? AND account_id = ?", requestID, account.ID).
		First(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "generation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, formatOwnGeneration(&row))
}

// formatOwnGeneration converts a generation record into caller-facing JSON.
func formatOwnGeneration(row *models.Generation) gin.H {
	status := "failed"
	switch row.Status {
	case models.GenerationStatusSucceeded:
		status = "succeeded"
	case models.GenerationStatusPending:
		status = "pending"
	}

	var attempts []json.RawMessage
	if len(row.Attempts) > 0 {
		_ = json.Unmarshal(row.Attempts, &attempts)
	}
	return gin.H{
		"request_id":      row.RequestID,
		"modality":        row.Modality,
		"status":          status,
		"failure_reason":  row.FailureReason,
		"attempts":        attempts,
		"job_id":          row.JobID,
		"credits_charged": row.CreditsCharged,
		"latency_ms":      row.LatencyMillis,
		"requested_at":    row.RequestedAt,
	}
}
