package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"gorm.io/gorm"
)

// GenerationHandler serves the admin view of dispatched generations.
type GenerationHandler struct {
	db *gorm.DB // Database handle for generation records.
}

// NewGenerationHandler constructs a generation handler.
func NewGenerationHandler(db *gorm.DB) *GenerationHandler {
	return &GenerationHandler{db: db}
}

// List returns generation records filtered by account, status, or modality.
func (h *GenerationHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.Generation{})

	if raw := strings.TrimSpace(c.Query("account_id")); raw != "" {
		q = q.Where("account_id = ?", raw)
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, errParse := strconv.Atoi(raw)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		q = q.Where("status = ?", status)
	}
	if raw := strings.TrimSpace(c.Query("modality")); raw != "" {
		modality, okModality := models.ParseModality(raw)
		if !okModality {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid modality"})
			return
		}
		q = q.Where("modality = ?", modality)
	}

	limit := 100
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if parsed, errParse := strconv.Atoi(raw); errParse == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	var rows []models.Generation
	if errFind := q.Order("id DESC").Limit(limit).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list generations failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatGeneration(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"generations": out})
}

// Get returns one generation record by request id.
func (h *GenerationHandler) Get(c *gin.Context) {
	requestID := strings.TrimSpace(c.Param("request_id"))
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request_id"})
		return
	}

	var row models.Generation
	if errFind := h.db.WithContext(c.Request.Context()).Where("request_id = ?", requestID).First(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "generation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, formatGeneration(&row))
}

// Stats aggregates generation counts by terminal status.
func (h *GenerationHandler) Stats(c *gin.Context) {
	type statRow struct {
		Status models.GenerationStatus `gorm:"column:status"`
		Count  int64                   `gorm:"column:cnt"`
	}

	var rows []statRow
	if errFind := h.db.WithContext(c.Request.Context()).
		Model(&models.Generation{}).
		Select("status, COUNT(*) AS cnt").
		Group("status").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}

	out := gin.H{"succeeded": int64(0), "pending": int64(0), "failed": int64(0)}
	for _, row := range rows {
		switch row.Status {
		case models.GenerationStatusSucceeded:
			out["succeeded"] = row.Count
		case models.GenerationStatusPending:
			out["pending"] = row.Count
		case models.GenerationStatusFailed:
			out["failed"] = row.Count
		}
	}
	c.JSON(http.StatusOK, out)
}

// formatGeneration converts a generation record into response JSON.
func formatGeneration(row *models.Generation) gin.H {
	var attempts []json.RawMessage
	if len(row.Attempts) > 0 {
		_ = json.Unmarshal(row.Attempts, &attempts)
	}
	return gin.H{
		"id":              row.ID,
		"request_id":      row.RequestID,
		"account_id":      row.AccountID,
		"tier":            row.Tier,
		"modality":        row.Modality,
		"model_id":        row.ModelID,
		"status":          row.Status,
		"failure_reason":  row.FailureReason,
		"attempts":        attempts,
		"job_id":          row.JobID,
		"credits_charged": row.CreditsCharged,
		"latency_ms":      row.LatencyMillis,
		"requested_at":    row.RequestedAt,
	}
}
