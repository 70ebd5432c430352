package ratelimit

import (
	"context"
	"errors"

	"github.com/modo-studio/modo-dispatch/internal/models"
	"gorm.io/gorm"
)

// ResolveLimit resolves the effective per-second limit for an account.
// A per-account override wins; otherwise the settings default applies.
func ResolveLimit(ctx context.Context, db *gorm.DB, accountID uint64) (Decision, error) {
	if db == nil || accountID == 0 {
		return Decision{}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	accountLimit, errAccount := loadAccountRateLimit(ctx, db, accountID)
	if errAccount != nil {
		return Decision{}, errAccount
	}
	if accountLimit > 0 {
		return Decision{Limit: accountLimit, Scope: ScopeAccount}, nil
	}

	settingsLimit := DefaultSettingsLimit()
	if settingsLimit > 0 {
		return Decision{Limit: settingsLimit, Scope: ScopeAccount}, nil
	}
	return Decision{}, nil
}

func loadAccountRateLimit(ctx context.Context, db *gorm.DB, accountID uint64) (int, error) {
	type accountRow struct {
		RateLimit int
	}
	var row accountRow
	if errFind := db.WithContext(ctx).
		Model(&models.CreditAccount{}).
		Select("rate_limit").
		Where("id = ?", accountID).
		Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, errFind
	}
	return row.RateLimit, nil
}
