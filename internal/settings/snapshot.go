package settings

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/modo-studio/modo-dispatch/internal/models"
	"gorm.io/gorm"
)

type snapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

var globalSnapshot atomic.Value

func init() {
	globalSnapshot.Store(snapshot{values: make(map[string]json.RawMessage)})
}

// StoreDBConfig replaces the in-memory settings snapshot.
func StoreDBConfig(updatedAt time.Time, rows []models.Setting) {
	next := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		if row.Key == "" {
			continue
		}
		next[row.Key] = row.Value
	}
	globalSnapshot.Store(snapshot{updatedAt: updatedAt.UTC(), values: next})
}

// DBConfigValue returns the raw JSON value for a settings key.
func DBConfigValue(key string) (json.RawMessage, bool) {
	v := globalSnapshot.Load()
	snap, ok := v.(snapshot)
	if !ok || snap.values == nil {
		return nil, false
	}
	raw, okKey := snap.values[key]
	if !okKey || len(raw) == 0 {
		return nil, false
	}
	return raw, true
}

// Reload loads all settings rows and refreshes the snapshot.
func Reload(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return nil
	}
	var rows []models.Setting
	if errFind := conn.WithContext(ctx).Find(&rows).Error; errFind != nil {
		return errFind
	}
	StoreDBConfig(time.Now().UTC(), rows)
	return nil
}
