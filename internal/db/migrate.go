package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modo-studio/modo-dispatch/internal/models"
	internalsettings "github.com/modo-studio/modo-dispatch/internal/settings"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.Provider{},
		&models.Model{},
		&models.ChainEntry{},
		&models.CreditAccount{},
		&models.CreditEntry{},
		&models.ProviderAPIKey{},
		&models.APIKey{},
		&models.Generation{},
		&models.Setting{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errSeed := ensureRateLimitSetting(conn); errSeed != nil {
		return errSeed
	}
	if errSeed := ensureChainReloadSetting(conn); errSeed != nil {
		return errSeed
	}

	// ddl defines an index or DDL statement to apply.
	type ddl struct {
		name string // Human-readable name for error reporting.
		sql  string // SQL to execute.
	}
	ddls := []ddl{
		{
			name: "idx_models_modality_default_true",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_models_modality_default_true
				ON models (modality)
				WHERE is_default = true
			`,
		},
		{
			name: "idx_models_modality_active",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_models_modality_active
				ON models (modality, is_active)
			`,
		},
		{
			name: "idx_chain_entries_tier_modality",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_chain_entries_tier_modality
				ON chain_entries (tier, modality, priority)
			`,
		},
		{
			name: "idx_credit_entries_account_id_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_credit_entries_account_id_created_at
				ON credit_entries (account_id, created_at DESC)
			`,
		},
		{
			name: "idx_generations_account_id_requested_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_generations_account_id_requested_at
				ON generations (account_id, requested_at DESC)
			`,
		},
		{
			name: "idx_generations_status_requested_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_generations_status_requested_at
				ON generations (status, requested_at DESC)
			`,
		},
		{
			name: "idx_provider_api_keys_provider_enabled",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_provider_api_keys_provider_enabled
				ON provider_api_keys (provider_id, is_enabled, priority)
			`,
		},
	}
	for _, item := range ddls {
		if errDDL := conn.Exec(item.sql).Error; errDDL != nil {
			return fmt.Errorf("db: create index %s: %w", item.name, errDDL)
		}
	}

	return nil
}

// ensureRateLimitSetting ensures RATE_LIMIT exists with defaults.
func ensureRateLimitSetting(conn *gorm.DB) error {
	return ensureIntSetting(conn, internalsettings.RateLimitKey, internalsettings.DefaultRateLimit)
}

// ensureChainReloadSetting ensures CHAIN_RELOAD_INTERVAL_SECONDS exists with defaults.
func ensureChainReloadSetting(conn *gorm.DB) error {
	return ensureIntSetting(
		conn,
		internalsettings.ChainReloadIntervalSecondsKey,
		internalsettings.DefaultChainReloadIntervalSeconds,
	)
}

// ensureIntSetting ensures an integer setting exists and defaults when empty.
func ensureIntSetting(conn *gorm.DB, key string, value int) error {
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", key, errMarshal)
	}
	rawValue := json.RawMessage(payload)

	var existing models.Setting
	if errFind := conn.Where("key = ?", key).First(&existing).Error; errFind == nil {
		trimmed := strings.TrimSpace(string(existing.Value))
		if len(existing.Value) == 0 || trimmed == "" || trimmed == "null" {
			if errUpdate := conn.Model(&existing).Updates(map[string]any{
				"value":      rawValue,
				"updated_at": time.Now().UTC(),
			}).Error; errUpdate != nil {
				return fmt.Errorf("db: update %s setting: %w", key, errUpdate)
			}
		}
		return nil
	} else if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("db: query %s setting: %w", key, errFind)
	}

	now := time.Now().UTC()
	setting := models.Setting{
		Key:       key,
		Value:     rawValue,
		UpdatedAt: now,
	}
	if errCreate := conn.Create(&setting).Error; errCreate != nil {
		return fmt.Errorf("db: create %s setting: %w", key, errCreate)
	}
	return nil
}
