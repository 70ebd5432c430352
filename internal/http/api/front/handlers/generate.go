package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/modo-studio/modo-dispatch/internal/dispatch"
	"github.com/modo-studio/modo-dispatch/internal/ledger"
	"github.com/modo-studio/modo-dispatch/internal/models"
)

// Dispatcher serves generation requests through the fallback chain.
type Dispatcher interface {
	Generate(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

// GenerateHandler serves POST /v0/generate.
type GenerateHandler struct {
	engine Dispatcher // Dispatch engine.
}

// NewGenerateHandler constructs a generate handler.
func NewGenerateHandler(engine Dispatcher) *GenerateHandler {
	return &GenerateHandler{engine: engine}
}

// generateRequest captures one inbound generation request.
type generateRequest struct {
	RequestID string          `json:"request_id"` // Optional idempotency key.
	Modality  string          `json:"modality"`   // Generation kind.
	Payload   json.RawMessage `json:"payload"`    // Provider request payload.
}

// Generate dispatches a generation request for the authenticated account.
func (h *GenerateHandler) Generate(c *gin.Context) {
	account, okAccount := accountFromContext(c)
	if !okAccount {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing account"})
		return
	}

	var body generateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	modality, okModality := models.ParseModality(body.Modality)
	if !okModality {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid modality"})
		return
	}

	result, errGenerate := h.engine.Generate(c.Request.Context(), dispatch.Request{
		RequestID: strings.TrimSpace(body.RequestID),
		AccountID: account.ID,
		Tier:      account.Tier,
		Modality:  modality,
		Payload:   body.Payload,
	})
	if errGenerate != nil {
		writeDispatchError(c, errGenerate)
		return
	}

	out := gin.H{
		"request_id":      result.RequestID,
		"model":           result.Model.ModelID,
		"provider":        result.Model.Provider.Slug,
		"credits_charged": result.CreditsCharged,
	}
	if result.Status == dispatch.StatusPending {
		out["status"] = "pending"
		out["job_id"] = result.JobID
		if result.ETASeconds > 0 {
			out["eta_seconds"] = result.ETASeconds
		}
		c.JSON(http.StatusAccepted, out)
		return
	}
	out["status"] = "succeeded"
	out["payload"] = result.Payload
	if len(result.Meta) > 0 {
		out["meta"] = result.Meta
	}
	c.JSON(http.StatusOK, out)
}

// writeDispatchError maps terminal dispatch errors to HTTP responses.
func writeDispatchError(c *gin.Context, err error) {
	var insufficientErr *dispatch.InsufficientCreditsError
	var fatalErr *dispatch.FatalProviderError
	var exhaustedErr *dispatch.ExhaustedError

	switch {
	case errors.Is(err, dispatch.ErrNoProviderConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no provider configured"})
	case errors.As(err, &insufficientErr):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":            "insufficient credits",
			"credits_required": insufficientErr.Required,
		})
	case errors.As(err, &fatalErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "provider rejected request",
			"model":  fatalErr.Model,
			"reason": fatalErr.Reason,
		})
	case errors.As(err, &exhaustedErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    "all providers failed",
			"attempts": exhaustedErr.Attempts,
		})
	case errors.Is(err, dispatch.ErrCancelled):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "request cancelled"})
	case errors.Is(err, ledger.ErrAccountNotFound):
		c.JSON(http.StatusForbidden, gin.H{"error": "account not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch failed"})
	}
}

// accountFromContext returns the authenticated credit account.
func accountFromContext(c *gin.Context) (models.CreditAccount, bool) {
	v, exists := c.Get("account")
	if !exists {
		return models.CreditAccount{}, false
	}
	account, ok := v.(models.CreditAccount)
	return account, ok
}
