package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	dbutil "github.com/modo-studio/modo-dispatch/internal/db"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"gorm.io/gorm"
)

// ProviderHandler manages admin CRUD for providers.
type ProviderHandler struct {
	db *gorm.DB // Database handle for providers.
}

// NewProviderHandler constructs a provider handler.
func NewProviderHandler(db *gorm.DB) *ProviderHandler {
	return &ProviderHandler{db: db}
}

// createProviderRequest captures the payload for creating a provider.
type createProviderRequest struct {
	Slug    string `json:"slug"`     // Stable provider identifier.
	Name    string `json:"name"`     // Display name.
	BaseURL string `json:"base_url"` // API base URL.
}

// updateProviderRequest captures optional fields for updates.
type updateProviderRequest struct {
	Name      *string `json:"name"`       // Optional display name.
	BaseURL   *string `json:"base_url"`   // Optional API base URL.
	IsEnabled *bool   `json:"is_enabled"` // Optional enabled flag.
}

// Create validates and inserts a provider record.
func (h *ProviderHandler) Create(c *gin.Context) {
	var body createProviderRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	slug := strings.ToLower(strings.TrimSpace(body.Slug))
	if slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slug is required"})
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		name = slug
	}

	row := models.Provider{
		Slug:      slug,
		Name:      name,
		BaseURL:   strings.TrimSpace(body.BaseURL),
		IsEnabled: true,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "create provider failed"})
		return
	}
	c.JSON(http.StatusCreated, formatProvider(&row))
}

// List returns providers, optionally filtered by keyword.
func (h *ProviderHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.Provider{})
	if keyword := strings.TrimSpace(c.Query("keyword")); keyword != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+keyword+"%")
		q = q.Where(
			dbutil.CaseInsensitiveLikeExpr(h.db, "slug")+" OR "+dbutil.CaseInsensitiveLikeExpr(h.db, "name"),
			pattern,
			pattern,
		)
	}

	var rows []models.Provider
	if errFind := q.Order("slug ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list providers failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatProvider(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

// Get returns a provider by id.
func (h *ProviderHandler) Get(c *gin.Context) {
	id, errID := parseIDParam(c)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var row models.Provider
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, "id = ?", id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "provider not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, formatProvider(&row))
}

// Update applies validated updates to a provider record.
func (h *ProviderHandler) Update(c *gin.Context) {
	id, errID := parseIDParam(c)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var row models.Provider
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, "id = ?", id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "provider not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	var body updateProviderRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name must not be empty"})
			return
		}
		row.Name = name
	}
	if body.BaseURL != nil {
		row.BaseURL = strings.TrimSpace(*body.BaseURL)
	}
	if body.IsEnabled != nil {
		row.IsEnabled = *body.IsEnabled
	}

	if errSave := h.db.WithContext(c.Request.Context()).Save(&row).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update provider failed"})
		return
	}
	c.JSON(http.StatusOK, formatProvider(&row))
}

// Delete removes a provider with no remaining catalog models.
func (h *ProviderHandler) Delete(c *gin.Context) {
	id, errID := parseIDParam(c)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var modelCount int64
	if errCount := h.db.WithContext(c.Request.Context()).
		Model(&models.Model{}).
		Where("provider_id = ?", id).
		Count(&modelCount).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if modelCount > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "provider still has models"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Delete(&models.Provider{}, "id = ?", id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete provider failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "provider not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// parseIDParam parses the :id route parameter.
func parseIDParam(c *gin.Context) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
}

// formatProvider converts a provider record into response JSON.
func formatProvider(row *models.Provider) gin.H {
	return gin.H{
		"id":         row.ID,
		"slug":       row.Slug,
		"name":       row.Name,
		"base_url":   row.BaseURL,
		"is_enabled": row.IsEnabled,
		"created_at": row.CreatedAt,
		"updated_at": row.UpdatedAt,
	}
}
