package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/modo-studio/modo-dispatch/internal/catalog"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"gorm.io/gorm"
)

// ChainInvalidator drops cached chain resolutions after catalog changes.
type ChainInvalidator interface {
	Invalidate()
}

// ModelHandler manages admin CRUD for catalog models.
type ModelHandler struct {
	db     *gorm.DB         // Database handle for models.
	chains ChainInvalidator // Chain cache to invalidate on writes.
}

// NewModelHandler constructs a model handler.
func NewModelHandler(db *gorm.DB, chains ChainInvalidator) *ModelHandler {
	return &ModelHandler{db: db, chains: chains}
}

// createModelRequest captures the payload for creating a catalog model.
type createModelRequest struct {
	ProviderID uint64 `json:"provider_id"` // Owning provider ID.
	ModelID    string `json:"model_id"`    // Provider-specific model identifier.
	Modality   string `json:"modality"`    // Generation kind.
	CreditCost int64  `json:"credit_cost"` // Credits charged per invocation.
	IsDefault  bool   `json:"is_default"`  // Whether to make this the modality default.
}

// updateModelRequest captures optional fields for updates.
type updateModelRequest struct {
	CreditCost *int64 `json:"credit_cost"` // Optional credit cost.
	IsActive   *bool  `json:"is_active"`   // Optional active flag.
}

// Create validates and inserts a catalog model.
func (h *ModelHandler) Create(c *gin.Context) {
	var body createModelRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	modality, okModality := models.ParseModality(body.Modality)
	if !okModality {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid modality"})
		return
	}
	modelID := strings.TrimSpace(body.ModelID)
	if modelID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model_id is required"})
		return
	}
	if body.CreditCost < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "credit_cost must not be negative"})
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

	row := models.Model{
		ProviderID: body.ProviderID,
		ModelID:    modelID,
		Modality:   modality,
		CreditCost: body.CreditCost,
		IsActive:   true,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "create model failed"})
		return
	}
	if body.IsDefault {
		if errDefault := catalog.SetDefaultModel(c.Request.Context(), h.db, row.ID); errDefault != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "set default failed"})
			return
		}
		row.IsDefault = true
	}

	h.invalidate()
	row.Provider = providerRow
	c.JSON(http.StatusCreated, formatModel(&row))
}

// List returns catalog models, optionally filtered by modality or provider.
func (h *ModelHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.Model{}).Preload("Provider")

	if raw := strings.TrimSpace(c.Query("modality")); raw != "" {
		modality, okModality := models.ParseModality(raw)
		if !okModality {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid modality"})
			return
		}
		q = q.Where("modality = ?", modality)
	}
	if raw := strings.TrimSpace(c.Query("provider_id")); raw != "" {
		q = q.Where("provider_id = ?", raw)
	}

	var rows []models.Model
	if errFind := q.Order("modality ASC, model_id ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list models failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatModel(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

// Update applies validated updates to a catalog model.
func (h *ModelHandler) Update(c *gin.Context) {
	id, errID := parseIDParam(c)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var row models.Model
	if errFind := h.db.WithContext(c.Request.Context()).Preload("Provider").First(&row, "id = ?", id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "model not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	var body updateModelRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if body.CreditCost != nil {
		if *body.CreditCost < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "credit_cost must not be negative"})
			return
		}
		row.CreditCost = *body.CreditCost
	}
	if body.IsActive != nil {
		row.IsActive = *body.IsActive
	}

	if errSave := h.db.WithContext(c.Request.Context()).Save(&row).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update model failed"})
		return
	}
	h.invalidate()
	c.JSON(http.StatusOK, formatModel(&row))
}

// SetDefault marks a model as its modality's default, clearing the previous one.
func (h *ModelHandler) SetDefault(c *gin.Context) {
	id, errID := parseIDParam(c)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if errDefault := catalog.SetDefaultModel(c.Request.Context(), h.db, id); errDefault != nil {
		if errors.Is(errDefault, catalog.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "model not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "set default failed"})
		return
	}
	h.invalidate()
	c.JSON(http.StatusOK, gin.H{"default": true})
}

// Delete removes a catalog model that no chain entry references.
func (h *ModelHandler) Delete(c *gin.Context) {
	id, errID := parseIDParam(c)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var entryCount int64
	if errCount := h.db.WithContext(c.Request.Context()).
		Model(&models.ChainEntry{}).
		Where("model_id = ?", id).
		Count(&entryCount).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if entryCount > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "model still referenced by chain entries"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Delete(&models.Model{}, "id = ?", id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete model failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "model not found"})
		return
	}
	h.invalidate()
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *ModelHandler) invalidate() {
	if h.chains != nil {
		h.chains.Invalidate()
	}
}

// formatModel converts a catalog model record into response JSON.
func formatModel(row *models.Model) gin.H {
	return gin.H{
		"id":          row.ID,
		"provider_id": row.ProviderID,
		"provider":    row.Provider.Slug,
		"model_id":    row.ModelID,
		"modality":    row.Modality,
		"credit_cost": row.CreditCost,
		"is_active":   row.IsActive,
		"is_default":  row.IsDefault,
		"created_at":  row.CreatedAt,
		"updated_at":  row.UpdatedAt,
	}
}
