package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/modo-studio/modo-dispatch/internal/config"
	"github.com/modo-studio/modo-dispatch/internal/db"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"github.com/modo-studio/modo-dispatch/internal/security"
	internalsettings "github.com/modo-studio/modo-dispatch/internal/settings"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// ErrInitCompleted signals that initialization finished and the server should restart.
var ErrInitCompleted = fmt.Errorf("init completed")

// defaultSQLitePath is the default SQLite database file name.
const defaultSQLitePath = "modo.db"

// minAdminPasswordLen applies to the first admin created during setup.
const minAdminPasswordLen = 8

// InitRequest contains parameters for initial system setup.
type InitRequest struct {
	DatabaseType     string `json:"database_type"`
	DatabaseHost     string `json:"database_host"`
	DatabasePort     int    `json:"database_port"`
	DatabaseUser     string `json:"database_user"`
	DatabasePassword string `json:"database_password"`
	DatabaseName     string `json:"database_name"`
	DatabasePath     string `json:"database_path"`
	DatabaseSSLMode  string `json:"database_ssl_mode"`
	SiteName         string `json:"site_name"`
	AdminUsername    string `json:"admin_username" binding:"required"`
	AdminPassword    string `json:"admin_password" binding:"required"`
}

// InitStatusResponse reports whether initialization is complete.
type InitStatusResponse struct {
	Initialized bool `json:"initialized"`
}

// normalize fills defaults and rejects incomplete setup input.
func (req *InitRequest) normalize() error {
	req.DatabaseType = strings.ToLower(strings.TrimSpace(req.DatabaseType))
	if req.DatabaseType == "" {
		req.DatabaseType = "postgres"
	}

	switch req.DatabaseType {
	case "postgres":
		missing := ""
		switch {
		case strings.TrimSpace(req.DatabaseHost) == "":
			missing = "Database host is required"
		case strings.TrimSpace(req.DatabaseUser) == "":
			missing = "Database username is required"
		case strings.TrimSpace(req.DatabasePassword) == "":
			missing = "Database password is required"
		case strings.TrimSpace(req.DatabaseName) == "":
			missing = "Database name is required"
		}
		if missing != "" {
			return fmt.Errorf("%s", missing)
		}
		if req.DatabasePort <= 0 {
			return fmt.Errorf("Invalid database port")
		}
	case "sqlite":
		if strings.TrimSpace(req.DatabasePath) == "" {
			req.DatabasePath = defaultSQLitePath
		}
	default:
		return fmt.Errorf("Unsupported database type")
	}

	req.SiteName = strings.TrimSpace(req.SiteName)
	if req.SiteName == "" {
		req.SiteName = internalsettings.DefaultSiteName
	}
	if len(req.AdminPassword) < minAdminPasswordLen {
		return fmt.Errorf("Password must be at least %d characters", minAdminPasswordLen)
	}
	return nil
}

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}

// BuildDSN builds a database DSN from the init request.
func BuildDSN(req InitRequest) (string, error) {
	switch strings.ToLower(strings.TrimSpace(req.DatabaseType)) {
	case "", "postgres":
		sslMode := strings.TrimSpace(req.DatabaseSSLMode)
		if sslMode == "" {
			sslMode = "disable"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(req.DatabaseUser, req.DatabasePassword),
			Host:     fmt.Sprintf("%s:%d", req.DatabaseHost, req.DatabasePort),
			Path:     "/" + req.DatabaseName,
			RawQuery: "sslmode=" + sslMode,
		}
		return u.String(), nil
	case "sqlite":
		return sqliteDSN(req.DatabasePath), nil
	default:
		return "", fmt.Errorf("unsupported database type")
	}
}

// sqlitePragmas keeps the embedded database usable under the concurrent
// dispatch workload: WAL for readers during writes, a busy timeout instead
// of immediate SQLITE_BUSY errors.
const sqlitePragmas = "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_synchronous=NORMAL"

// sqliteDSN turns a file path into a SQLite DSN with the service pragmas.
func sqliteDSN(path string) string {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = defaultSQLitePath
	}
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = "file:" + dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqlitePragmas
	}
	return dsn + "?" + sqlitePragmas
}

// pingDatabase verifies the DSN can connect before the config is written.
func pingDatabase(dsn string) error {
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return fmt.Errorf("failed to connect to database: %w", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		return fmt.Errorf("failed to get sql db: %w", errDB)
	}
	defer func() {
		if errClose := sqlDB.Close(); errClose != nil {
			log.Errorf("sql db close error: %v", errClose)
		}
	}()
	return sqlDB.Ping()
}

// configFile maps YAML fields for the generated config file.
type configFile struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	DatabaseDSN string `yaml:"database-dsn"`
	Debug       bool   `yaml:"debug"`
	JWT         jwtCfg `yaml:"jwt"`
}

// jwtCfg holds JWT settings for the generated config file.
type jwtCfg struct {
	Secret string `yaml:"secret"`
	Expiry string `yaml:"expiry"`
}

// WriteConfigFile writes the initial config file to disk with a fresh
// JWT secret. The file carries the DSN, so it stays operator-readable only.
func WriteConfigFile(configPath string, dsn string, port int) error {
	secret, errSecret := security.GenerateRandomString(32)
	if errSecret != nil {
		return fmt.Errorf("generate jwt secret: %w", errSecret)
	}
	data, errMarshal := yaml.Marshal(configFile{
		Port:        port,
		DatabaseDSN: dsn,
		JWT:         jwtCfg{Secret: secret, Expiry: "24h"},
	})
	if errMarshal != nil {
		return fmt.Errorf("marshal config: %w", errMarshal)
	}

	if errMkdir := os.MkdirAll(filepath.Dir(configPath), 0755); errMkdir != nil {
		return fmt.Errorf("create config dir: %w", errMkdir)
	}
	if errWrite := os.WriteFile(configPath, data, 0600); errWrite != nil {
		return fmt.Errorf("write config file: %w", errWrite)
	}
	return nil
}

// CreateAdminUser opens and migrates the database, then seeds the first admin.
func CreateAdminUser(dsn string, username, password, siteName string) error {
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return fmt.Errorf("open database: %w", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return fmt.Errorf("migrate database: %w", errMigrate)
	}
	return CreateAdminUserWithConn(conn, username, password, siteName)
}

// CreateAdminUserWithConn creates the first admin user and seeds the site name.
func CreateAdminUserWithConn(conn *gorm.DB, username, password, siteName string) error {
	if conn == nil {
		return fmt.Errorf("open database: nil connection")
	}
	hashed, errHash := security.HashPassword(password)
	if errHash != nil {
		return fmt.Errorf("hash password: %w", errHash)
	}

	now := time.Now().UTC()
	admin := models.Admin{
		Username:     username,
		PasswordHash: hashed,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		return fmt.Errorf("create admin: %w", errCreate)
	}
	return seedSiteName(conn, siteName)
}

// seedSiteName stores the deployment display name in settings.
func seedSiteName(conn *gorm.DB, siteName string) error {
	normalized := strings.TrimSpace(siteName)
	if normalized == "" {
		normalized = internalsettings.DefaultSiteName
	}
	payload, errMarshal := json.Marshal(normalized)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal SITE_NAME setting: %w", errMarshal)
	}

	now := time.Now().UTC()
	res := conn.Model(&models.Setting{}).
		Where("key = ?", internalsettings.SiteNameKey).
		Updates(map[string]any{"value": json.RawMessage(payload), "updated_at": now})
	if res.Error != nil {
		return fmt.Errorf("db: update SITE_NAME setting: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	setting := models.Setting{
		Key:       internalsettings.SiteNameKey,
		Value:     json.RawMessage(payload),
		UpdatedAt: now,
	}
	if errCreate := conn.Create(&setting).Error; errCreate != nil {
		return fmt.Errorf("db: create SITE_NAME setting: %w", errCreate)
	}
	return nil
}

// corsMiddleware enables permissive CORS for dashboard clients.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// handleInitSetup performs the one-time bootstrap: validate the request,
// prove the database reachable, write the config file, and seed the first
// admin. A failed admin seed removes the config again so setup can retry.
func handleInitSetup(configPath string, port int, onDone func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ConfigExists(configPath) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "System already initialized"})
			return
		}

		var req InitRequest
		if errBind := c.ShouldBindJSON(&req); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
			return
		}
		if errNormalize := req.normalize(); errNormalize != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errNormalize.Error()})
			return
		}

		dsn, errBuild := BuildDSN(req)
		if errBuild != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errBuild.Error()})
			return
		}
		if errPing := pingDatabase(dsn); errPing != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Database connection failed: %v", errPing)})
			return
		}

		if errWrite := WriteConfigFile(configPath, dsn, port); errWrite != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to write config: %v", errWrite)})
			return
		}
		if errAdmin := CreateAdminUser(dsn, req.AdminUsername, req.AdminPassword, req.SiteName); errAdmin != nil {
			if errRemove := os.Remove(configPath); errRemove != nil {
				log.Errorf("remove config file error: %v", errRemove)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to create admin: %v", errAdmin)})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "Initialization successful"})
		onDone()
	}
}

// RunInitServer starts the bootstrap API when the config file is missing.
// Once setup succeeds it shuts down and returns ErrInitCompleted so the
// caller can start the main server against the new config.
func RunInitServer(ctx context.Context, cfg config.AppConfig, port int) error {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	initDone := make(chan struct{})

	engine.GET("/v0/init/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, InitStatusResponse{Initialized: ConfigExists(configPath)})
	})
	engine.POST("/v0/init/setup", handleInitSetup(configPath, port, func() {
		// Let the success response flush before tearing the server down.
		go func() {
			time.Sleep(500 * time.Millisecond)
			close(initDone)
		}()
	}))
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "System initializing, complete setup via /v0/init/setup"})
	})

	addr := fmt.Sprintf(":%d", port)
	log.Infof("starting init server on %s (config not found at %s)", addr, configPath)

	srv := &http.Server{
		Addr:    addr,
		Handler: engine,
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-initDone:
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("init server shutdown error: %v", errShutdown)
		}
	}()

	if errListen := srv.ListenAndServe(); errListen != nil && errListen != http.ErrServerClosed {
		return errListen
	}

	select {
	case <-initDone:
		return ErrInitCompleted
	default:
		return nil
	}
}
