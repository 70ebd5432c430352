package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProviderAPIKeyHandler manages admin CRUD for upstream provider API keys.
type ProviderAPIKeyHandler struct {
	db *gorm.DB // Database handle for provider keys.
}

// NewProviderAPIKeyHandler constructs a provider key handler.
func NewProviderAPIKeyHandler(db *gorm.DB) *ProviderAPIKeyHandler {
	return &ProviderAPIKeyHandler{db: db}
}

// createProviderAPIKeyRequest captures the payload for creating provider keys.
type createProviderAPIKeyRequest struct {
	ProviderID uint64            `json:"provider_id"` // Owning provider ID.
	Name       string            `json:"name"`        // Display label.
	APIKey     string            `json:"api_key"`     // API key value.
	BaseURL    string            `json:"base_url"`    // Optional base URL override.
	Priority   int               `json:"priority"`    // Selection priority, lower tried first.
	Headers    map[string]string `json:"headers"`     // Extra request headers.
}

// updateProviderAPIKeyRequest captures optional fields for updates.
type updateProviderAPIKeyRequest struct {
	Name      *string            `json:"name"`       // Optional display label.
	APIKey    *string            `json:"api_key"`    // Optional API key value.
	BaseURL   *string            `json:"base_url"`   // Optional base URL override.
	Priority  *int               `json:"priority"`   // Optional selection priority.
	Headers   *map[string]string `json:"headers"`    // Optional extra headers.
	IsEnabled *bool              `json:"is_enabled"` // Optional enabled flag.
}

// Create validates and inserts a provider API key record.
func (h *ProviderAPIKeyHandler) Create(c *gin.Context) {
	var body createProviderAPIKeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	apiKey := strings.TrimSpace(body.APIKey)
	if apiKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key is required"})
		return
	}

	var providerRow models.Provider
	if errFind := h.db.WithContext(c.Request.Context()).First(&providerRow, "id = ?", body.ProviderID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "provider not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	headersJSON, errHeaders := marshalJSON(body.Headers)
	if errHeaders != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid headers"})
		return
	}

	row := models.ProviderAPIKey{
		ProviderID: body.ProviderID,
		Name:       strings.TrimSpace(body.Name),
		APIKey:     apiKey,
		BaseURL:    strings.TrimSpace(body.BaseURL),
		Priority:   body.Priority,
		Headers:    headersJSON,
		IsEnabled:  true,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create provider key failed"})
		return
	}
	c.JSON(http.StatusCreated, formatProviderKey(&row))
}

// List returns provider API keys, optionally filtered by provider.
func (h *ProviderAPIKeyHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.ProviderAPIKey{})
	if raw := strings.TrimSpace(c.Query("provider_id")); raw != "" {
		q = q.Where("provider_id = ?", raw)
	}

	var rows []models.ProviderAPIKey
	if errFind := q.Order("provider_id ASC, priority ASC, id ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list provider keys failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatProviderKey(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"provider_keys": out})
}

// Update applies validated updates to a provider API key record.
func (h *ProviderAPIKeyHandler) Update(c *gin.Context) {
	id, errID := parseIDParam(c)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var row models.ProviderAPIKey
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, "id = ?", id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "provider key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	var body updateProviderAPIKeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if body.Name != nil {
		row.Name = strings.TrimSpace(*body.Name)
	}
	if body.APIKey != nil {
		apiKey := strings.TrimSpace(*body.APIKey)
		if apiKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "api_key must not be empty"})
			return
		}
		row.APIKey = apiKey
	}
	if body.BaseURL != nil {
		row.BaseURL = strings.TrimSpace(*body.BaseURL)
	}
	if body.Priority != nil {
		row.Priority = *body.Priority
	}
	if body.Headers != nil {
		headersJSON, errHeaders := marshalJSON(*body.Headers)
		if errHeaders != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid headers"})
			return
		}
		row.Headers = headersJSON
	}
	if body.IsEnabled != nil {
		row.IsEnabled = *body.IsEnabled
	}

	if errSave := h.db.WithContext(c.Request.Context()).Save(&row).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update provider key failed"})
		return
	}
	c.JSON(http.StatusOK, formatProviderKey(&row))
}

// Delete removes a provider API key record.
func (h *ProviderAPIKeyHandler) Delete(c *gin.Context) {
	id, errID := parseIDParam(c)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Delete(&models.ProviderAPIKey{}, "id = ?", id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete provider key failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "provider key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// marshalJSON encodes a value into JSON, returning nil for empty inputs.
func marshalJSON(value any) (datatypes.JSON, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return datatypes.JSON(data), nil
}

// decodeHeaders decodes headers JSON into a map.
func decodeHeaders(value datatypes.JSON) map[string]string {
	if len(value) == 0 {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal(value, &out); err != nil {
		return nil
	}
	return out
}

// formatProviderKey converts a provider API key record into response JSON.
func formatProviderKey(row *models.ProviderAPIKey) gin.H {
	return gin.H{
		"id":          row.ID,
		"provider_id": row.ProviderID,
		"name":        row.Name,
		"api_key":     maskToken(row.APIKey),
		"base_url":    row.BaseURL,
		"priority":    row.Priority,
		"headers":     decodeHeaders(row.Headers),
		"is_enabled":  row.IsEnabled,
		"created_at":  row.CreatedAt,
		"updated_at":  row.UpdatedAt,
	}
}
