package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/modo-studio/modo-dispatch/internal/config"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"github.com/modo-studio/modo-dispatch/internal/security"
	"gorm.io/gorm"
)

// AuthHandler serves admin login, including the optional TOTP step.
type AuthHandler struct {
	db     *gorm.DB         // Database handle for admins.
	jwtCfg config.JWTConfig // JWT signing settings.
}

// NewAuthHandler constructs an auth handler.
func NewAuthHandler(db *gorm.DB, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{db: db, jwtCfg: jwtCfg}
}

// loginRequest captures admin login credentials.
type loginRequest struct {
	Username string `json:"username"`  // Admin username.
	Password string `json:"password"`  // Plaintext password.
	TOTPCode string `json:"totp_code"` // One-time code when TOTP is enabled.
}

// Login verifies credentials and issues a session token. Accounts with TOTP
// enabled must supply a valid code in the same request.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	username := strings.TrimSpace(body.Username)
	if username == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).Where("username = ?", username).First(&admin).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if !admin.Active {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
		return
	}
	if !security.VerifyPassword(admin.PasswordHash, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if admin.TOTPSecret != "" {
		code := strings.TrimSpace(body.TOTPCode)
		if code == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "totp code required", "totp_required": true})
			return
		}
		if !security.VerifyTOTP(admin.TOTPSecret, code) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid totp code"})
			return
		}
	}

	token, errMint := security.MintAdminToken(h.jwtCfg.Secret, admin.ID, admin.Username)
	if errMint != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mint token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "username": admin.Username})
}

// totpConfirmRequest captures the confirmation code for TOTP enrollment.
type totpConfirmRequest struct {
	Secret string `json:"secret"` // Secret returned by the prepare step.
	Code   string `json:"code"`   // Current one-time code.
}

// PrepareTOTP generates a TOTP secret for the authenticated admin.
func (h *AuthHandler) PrepareTOTP(c *gin.Context) {
	username := c.GetString("adminUsername")
	secret, url, errGenerate := security.GenerateTOTPSecret("MODO Dispatch", username)
	if errGenerate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate totp failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"secret": secret, "url": url})
}

// ConfirmTOTP verifies a code against a pending secret and stores it.
func (h *AuthHandler) ConfirmTOTP(c *gin.Context) {
	var body totpConfirmRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	secret := strings.TrimSpace(body.Secret)
	if secret == "" || !security.VerifyTOTP(secret, strings.TrimSpace(body.Code)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid totp code"})
		return
	}

	adminID := c.GetUint64("adminID")
	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(&models.Admin{}).
		Where("id = ?", adminID).
		Update("totp_secret", secret).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store totp secret failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true})
}

// DisableTOTP clears the stored TOTP secret for the authenticated admin.
func (h *AuthHandler) DisableTOTP(c *gin.Context) {
	adminID := c.GetUint64("adminID")
	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(&models.Admin{}).
		Where("id = ?", adminID).
		Update("totp_secret", "").Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "disable totp failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": false})
}
