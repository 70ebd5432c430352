// Package front exposes the caller-facing generation API.
package front

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	handlers "github.com/modo-studio/modo-dispatch/internal/http/api/front/handlers"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"github.com/modo-studio/modo-dispatch/internal/ratelimit"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RegisterFrontRoutes registers the generation surface and its middleware.
func RegisterFrontRoutes(r *gin.Engine, db *gorm.DB, engine handlers.Dispatcher, lister handlers.GenerationLister) {
	if r == nil || db == nil {
		return
	}

	limiter := ratelimit.NewManager(ratelimit.LoadSettingsConfig, time.Now, nil)

	group := r.Group("/v0")
	group.Use(apiKeyAuthMiddleware(db))
	group.Use(rateLimitMiddleware(db, limiter))

	generateHandler := handlers.NewGenerateHandler(engine)
	group.POST("/generate", generateHandler.Generate)

	accountHandler := handlers.NewAccountHandler(db, lister)
	group.GET("/account", accountHandler.Get)
	group.GET("/generations", accountHandler.ListGenerations)
	group.GET("/generations/:request_id", accountHandler.GetGeneration)
}

// apiKeyAuthMiddleware resolves a bearer token to its credit account.
func apiKeyAuthMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" || token == strings.TrimSpace(authHeader) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		var key models.APIKey
		errFind := db.WithContext(c.Request.Context()).
			Preload("Account").
			Where("token = ? AND is_enabled = ?", token, true).
			First(&key).Error
		if errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth failed"})
			return
		}
		if !key.Account.IsEnabled {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account disabled"})
			return
		}

		c.Set("account", key.Account)
		c.Next()
	}
}

// rateLimitMiddleware enforces the resolved per-account limit. Resolution or
// backend failures let the request through; limiting must not become an outage.
func rateLimitMiddleware(db *gorm.DB, limiter *ratelimit.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := accountFromContext(c)
		if !ok {
			c.Next()
			return
		}

		decision, errResolve := ratelimit.ResolveLimit(c.Request.Context(), db, account.ID)
		if errResolve != nil {
			log.WithError(errResolve).Warn("rate limit: resolve failed")
			c.Next()
			return
		}
		if decision.Limit <= 0 {
			c.Next()
			return
		}
		key := ratelimit.KeyForDecision(account.ID, decision)
		if key == "" {
			c.Next()
			return
		}

		result, errAllow := limiter.Allow(c.Request.Context(), key, decision.Limit)
		if errAllow != nil {
			log.WithError(errAllow).Warn("rate limit: check failed")
			c.Next()
			return
		}
		if !result.Allowed {
			resetSeconds := int(time.Until(result.Reset).Seconds())
			if resetSeconds < 0 {
				resetSeconds = 0
			}
			c.Header("Retry-After", strconv.Itoa(resetSeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
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
