package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/modo-studio/modo-dispatch/internal/catalog"
	"github.com/modo-studio/modo-dispatch/internal/chain"
	"github.com/modo-studio/modo-dispatch/internal/config"
	"github.com/modo-studio/modo-dispatch/internal/credentials"
	"github.com/modo-studio/modo-dispatch/internal/db"
	"github.com/modo-studio/modo-dispatch/internal/dispatch"
	"github.com/modo-studio/modo-dispatch/internal/genlog"
	adminapi "github.com/modo-studio/modo-dispatch/internal/http/api/admin"
	"github.com/modo-studio/modo-dispatch/internal/http/api/front"
	"github.com/modo-studio/modo-dispatch/internal/ledger"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"github.com/modo-studio/modo-dispatch/internal/provider"
	internalsettings "github.com/modo-studio/modo-dispatch/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// chainCacheTTL bounds how long a resolved fallback chain is served from cache.
const chainCacheTTL = 30 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the dispatch server with database-backed components.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errReload := internalsettings.Reload(ctx, conn); errReload != nil {
		log.WithError(errReload).Warn("initial settings load failed")
	}

	initialized, errInit := HasAdminInitialized(conn)
	if errInit != nil {
		return errInit
	}
	var initState atomic.Bool
	initState.Store(initialized)

	jwtConfig, _ := config.LoadJWTConfig(configPath)
	serverConfig, _ := config.LoadServerConfig(configPath)
	dispatchConfig, _ := config.LoadDispatchConfig(configPath)

	port := serverConfig.Port
	if port <= 0 {
		port = defaultPort
	}
	if port <= 0 {
		port = 8318
	}

	cat := catalog.NewGormRepository(conn)
	chains := chain.NewResolver(chain.NewGormRepository(conn), cat, chainCacheTTL)
	credits := ledger.NewGormLedger(conn)
	creds := credentials.NewStore(conn)
	recorder := genlog.NewRecorder(conn)
	engine := dispatch.NewEngine(chains, credits, buildInvokerRegistry(), creds, recorder, modalityTimeouts(dispatchConfig), dispatchConfig.DefaultTimeout)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	adminapi.RegisterAdminRoutes(router, conn, jwtConfig, credits, chains)
	front.RegisterFrontRoutes(router, conn, engine, recorder)
	registerInitRoutes(router, conn, dsn, &initState)

	go runConfigReloader(ctx, conn, chains)

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("server shutdown error: %v", errShutdown)
		}
	}()

	log.Infof("starting dispatch server on %s", addr)
	if errListen := srv.ListenAndServe(); errListen != nil && errListen != http.ErrServerClosed {
		return errListen
	}
	return nil
}

// buildInvokerRegistry registers the provider adapters under their catalog slugs.
func buildInvokerRegistry() *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register("openai", provider.NewOpenAIInvoker(""))
	registry.Register("stability", provider.NewStabilityInvoker(""))
	registry.Register("replicate", provider.NewReplicateInvoker(""))
	return registry
}

// modalityTimeouts converts configured timeout keys into catalog modalities.
func modalityTimeouts(cfg config.DispatchConfig) map[models.Modality]time.Duration {
	out := make(map[models.Modality]time.Duration, len(cfg.Timeouts))
	for key, timeout := range cfg.Timeouts {
		modality, ok := models.ParseModality(key)
		if !ok {
			log.Warnf("ignoring timeout for unknown modality %q", key)
			continue
		}
		out[modality] = timeout
	}
	return out
}

// registerInitRoutes exposes the first-run bootstrap endpoints on the main server.
func registerInitRoutes(router *gin.Engine, conn *gorm.DB, dsn string, initState *atomic.Bool) {
	router.GET("/v0/init/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, InitStatusResponse{Initialized: initState.Load()})
	})
	router.GET("/v0/init/prefill", func(c *gin.Context) {
		prefill, errPrefill := initPrefillFromDSN(dsn)
		if errPrefill != nil {
			c.JSON(http.StatusOK, gin.H{"locked": true})
			return
		}
		c.JSON(http.StatusOK, struct {
			Locked bool `json:"locked"`
			initPrefill
		}{Locked: true, initPrefill: prefill})
	})
	router.POST("/v0/init/setup", func(c *gin.Context) {
		if ok, errInit := HasAdminInitialized(conn); errInit != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "check admin status failed"})
			return
		} else if ok {
			initState.Store(true)
			c.JSON(http.StatusBadRequest, gin.H{"error": "System already initialized"})
			return
		}

		var req InitRequest
		if errBind := c.ShouldBindJSON(&req); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
			return
		}

		req.SiteName = strings.TrimSpace(req.SiteName)
		if req.SiteName == "" {
			req.SiteName = internalsettings.DefaultSiteName
		}

		req.AdminUsername = strings.TrimSpace(req.AdminUsername)
		if req.AdminUsername == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Admin username is required"})
			return
		}
		if strings.TrimSpace(req.AdminPassword) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Admin password is required"})
			return
		}
		if len(req.AdminPassword) < 8 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be at least 8 characters"})
			return
		}

		if errAdmin := CreateAdminUserWithConn(conn, req.AdminUsername, req.AdminPassword, req.SiteName); errAdmin != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to create admin: %v", errAdmin)})
			return
		}
		initState.Store(true)
		c.JSON(http.StatusOK, gin.H{"message": "Initialization successful"})
	})
}

// runConfigReloader refreshes the settings snapshot and drops cached chains
// on the configured interval until the context is cancelled.
func runConfigReloader(ctx context.Context, conn *gorm.DB, chains *chain.Resolver) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(chainReloadInterval()):
		}
		if errReload := internalsettings.Reload(ctx, conn); errReload != nil {
			log.WithError(errReload).Warn("settings reload failed")
			continue
		}
		chains.Invalidate()
	}
}

// chainReloadInterval reads the reload interval from the settings snapshot.
func chainReloadInterval() time.Duration {
	seconds := internalsettings.DefaultChainReloadIntervalSeconds
	if raw, ok := internalsettings.DBConfigValue(internalsettings.ChainReloadIntervalSecondsKey); ok {
		var n int
		if errDecode := json.Unmarshal(raw, &n); errDecode == nil && n > 0 {
			seconds = n
		} else {
			var s string
			if errStr := json.Unmarshal(raw, &s); errStr == nil {
				if parsed, errParse := strconv.Atoi(strings.TrimSpace(s)); errParse == nil && parsed > 0 {
					seconds = parsed
				}
			}
		}
	}
	return time.Duration(seconds) * time.Second
}
