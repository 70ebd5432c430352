package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"github.com/modo-studio/modo-dispatch/internal/security"
	"gorm.io/gorm"
)

// APIKeyHandler manages bearer tokens for the generation surface.
type APIKeyHandler struct {
	db *gorm.DB // Database handle for API keys.
}

// NewAPIKeyHandler constructs an API key handler.
func NewAPIKeyHandler(db *gorm.DB) *APIKeyHandler {
	return &APIKeyHandler{db: db}
}

// createAPIKeyRequest captures the payload for issuing an API key.
type createAPIKeyRequest struct {
	AccountID uint64 `json:"account_id"` // Owning credit account ID.
	Name      string `json:"name"`       // Display label.
}

// Create issues a new bearer token bound to a credit account. The token
// value is only returned once, at creation.
func (h *APIKeyHandler) Create(c *gin.Context) {
	var body createAPIKeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var account models.CreditAccount
	if errFind := h.db.WithContext(c.Request.Context()).First(&account, "id = ?", body.AccountID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	token, errGenerate := security.GenerateServiceToken()
	if errGenerate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate token failed"})
		return
	}

	row := models.APIKey{
		AccountID: account.ID,
		Token:     token,
		Name:      strings.TrimSpace(body.Name),
		IsEnabled: true,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create api key failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":          row.ID,
		"account_id":  row.AccountID,
		"account_key": account.AccountKey,
		"name":        row.Name,
		"token":       token,
		"created_at":  row.CreatedAt,
	})
}

// List returns API keys with their token values masked.
func (h *APIKeyHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.APIKey{})
	if raw := strings.TrimSpace(c.Query("account_id")); raw != "" {
		q = q.Where("account_id = ?", raw)
	}

	var rows []models.APIKey
	if errFind := q.Order("id DESC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list api keys failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":         row.ID,
			"account_id": row.AccountID,
			"name":       row.Name,
			"token":      maskToken(row.Token),
			"is_enabled": row.IsEnabled,
			"created_at": row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": out})
}

// Revoke disables an API key without deleting its record.
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	id, errID := parseIDParam(c)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).
		Model(&models.APIKey{}).
		Where("id = ?", id).
		Update("is_enabled", false)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke api key failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

// maskToken hides all but the tail of a token value.
func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return "****" + token[len(token)-8:]
}
