package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"github.com/modo-studio/modo-dispatch/internal/security"
	"gorm.io/gorm"
)

// AdminHandler manages operator accounts.
type AdminHandler struct {
	db *gorm.DB // Database handle for admins.
}

// NewAdminHandler constructs an admin handler.
func NewAdminHandler(db *gorm.DB) *AdminHandler {
	return &AdminHandler{db: db}
}

// createAdminRequest captures the payload for creating an admin.
type createAdminRequest struct {
	Username string `json:"username"` // Login name.
	Password string `json:"password"` // Plaintext password.
}

// changePasswordRequest captures the payload for a password change.
type changePasswordRequest struct {
	Password string `json:"password"` // New plaintext password.
}

// Create validates and inserts an operator account.
func (h *AdminHandler) Create(c *gin.Context) {
	var body createAdminRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	username := strings.TrimSpace(body.Username)
	if username == "" || len(body.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and a password of at least 8 characters are required"})
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	row := models.Admin{
		Username:     username,
		PasswordHash: hash,
		Active:       true,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "create admin failed"})
		return
	}
	c.JSON(http.StatusCreated, formatAdmin(&row))
}

// List returns all operator accounts.
func (h *AdminHandler) List(c *gin.Context) {
	var rows []models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).Order("username ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list admins failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatAdmin(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"admins": out})
}

// ChangePassword replaces an admin's password hash.
func (h *AdminHandler) ChangePassword(c *gin.Context) {
	id, errID := parseIDParam(c)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var body changePasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(body.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).
		Model(&models.Admin{}).
		Where("id = ?", id).
		Update("password_hash", hash)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update password failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "admin not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// SetActive enables or disables an operator account.
func (h *AdminHandler) SetActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, errID := parseIDParam(c)
		if errID != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		if !active && id == c.GetUint64("adminID") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot disable own account"})
			return
		}

		res := h.db.WithContext(c.Request.Context()).
			Model(&models.Admin{}).
			Where("id = ?", id).
			Update("active", active)
		if res.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update admin failed"})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "admin not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"active": active})
	}
}

// Delete removes an operator account other than the caller's own.
func (h *AdminHandler) Delete(c *gin.Context) {
	id, errID := parseIDParam(c)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if id == c.GetUint64("adminID") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete own account"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Delete(&models.Admin{}, "id = ?", id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete admin failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "admin not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// formatAdmin converts an admin record into response JSON.
func formatAdmin(row *models.Admin) gin.H {
	return gin.H{
		"id":           row.ID,
		"username":     row.Username,
		"totp_enabled": row.TOTPSecret != "",
		"active":       row.Active,
		"created_at":   row.CreatedAt,
	}
}
