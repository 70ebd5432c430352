package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/modo-studio/modo-dispatch/internal/config"
	handlers "github.com/modo-studio/modo-dispatch/internal/http/api/admin/handlers"
	"github.com/modo-studio/modo-dispatch/internal/ledger"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"github.com/modo-studio/modo-dispatch/internal/security"
	"gorm.io/gorm"
)

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, credits *ledger.GormLedger, chains handlers.ChainInvalidator) {
	if r == nil || db == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	adminGroup := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	adminGroup.POST("/login", authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(db, jwtCfg))

	authed.POST("/mfa/totp/prepare", authHandler.PrepareTOTP)
	authed.POST("/mfa/totp/confirm", authHandler.ConfirmTOTP)
	authed.POST("/mfa/totp/disable", authHandler.DisableTOTP)

	adminHandler := handlers.NewAdminHandler(db)
	authed.POST("/admins", adminHandler.Create)
	authed.GET("/admins", adminHandler.List)
	authed.PUT("/admins/:id/password", adminHandler.ChangePassword)
	authed.POST("/admins/:id/enable", adminHandler.SetActive(true))
	authed.POST("/admins/:id/disable", adminHandler.SetActive(false))
	authed.DELETE("/admins/:id", adminHandler.Delete)

	providerHandler := handlers.NewProviderHandler(db)
	authed.POST("/providers", providerHandler.Create)
	authed.GET("/providers", providerHandler.List)
	authed.GET("/providers/:id", providerHandler.Get)
	authed.PUT("/providers/:id", providerHandler.Update)
	authed.DELETE("/providers/:id", providerHandler.Delete)

	modelHandler := handlers.NewModelHandler(db, chains)
	authed.POST("/models", modelHandler.Create)
	authed.GET("/models", modelHandler.List)
	authed.PUT("/models/:id", modelHandler.Update)
	authed.POST("/models/:id/default", modelHandler.SetDefault)
	authed.DELETE("/models/:id", modelHandler.Delete)

	chainHandler := handlers.NewChainHandler(db, chains)
	authed.POST("/chains", chainHandler.Create)
	authed.GET("/chains", chainHandler.List)
	authed.PUT("/chains/reorder", chainHandler.Reorder)
	authed.DELETE("/chains/:id", chainHandler.Delete)

	accountHandler := handlers.NewAccountHandler(db, credits)
	authed.POST("/accounts", accountHandler.Create)
	authed.GET("/accounts", accountHandler.List)
	authed.GET("/accounts/:id", accountHandler.Get)
	authed.PUT("/accounts/:id", accountHandler.Update)
	authed.POST("/accounts/:id/top-up", accountHandler.TopUp)
	authed.POST("/accounts/:id/reset-usage", accountHandler.ResetUsage)

	apiKeyHandler := handlers.NewAPIKeyHandler(db)
	authed.POST("/api-keys", apiKeyHandler.Create)
	authed.GET("/api-keys", apiKeyHandler.List)
	authed.DELETE("/api-keys/:id", apiKeyHandler.Revoke)

	providerKeyHandler := handlers.NewProviderAPIKeyHandler(db)
	authed.POST("/provider-api-keys", providerKeyHandler.Create)
	authed.GET("/provider-api-keys", providerKeyHandler.List)
	authed.PUT("/provider-api-keys/:id", providerKeyHandler.Update)
	authed.DELETE("/provider-api-keys/:id", providerKeyHandler.Delete)

	generationHandler := handlers.NewGenerationHandler(db)
	authed.GET("/generations", generationHandler.List)
	authed.GET("/generations/stats", generationHandler.Stats)
	authed.GET("/generations/:request_id", generationHandler.Get)

	settingHandler := handlers.NewSettingHandler(db)
	authed.POST("/settings", settingHandler.Create)
	authed.GET("/settings", settingHandler.List)
	authed.GET("/settings/:key", settingHandler.Get)
	authed.PUT("/settings/:key", settingHandler.Update)
	authed.DELETE("/settings/:key", settingHandler.Delete)
}

// adminAuthMiddleware validates admin JWTs and loads admin context.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
			return
		}

		c.Set("adminID", admin.ID)
		c.Set("adminUsername", admin.Username)
		c.Next()
	}
}
