// Package credentials selects upstream API keys for provider calls.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/modo-studio/modo-dispatch/internal/models"
	"github.com/modo-studio/modo-dispatch/internal/provider"
	"gorm.io/gorm"
)

// ErrNoCredential is returned when a provider has no enabled API key.
var ErrNoCredential = errors.New("credentials: no enabled key for provider")

// Store picks the upstream credential to use for a provider. Keys are grouped
// by priority (lower value wins); within the best priority group selection is
// round-robin so load spreads across sibling keys.
type Store struct {
	db *gorm.DB

	mu      sync.Mutex
	cursors map[uint64]*atomic.Uint64
}

// NewStore constructs a Store backed by the application database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, cursors: make(map[uint64]*atomic.Uint64)}
}

// ActiveCredential returns the credential to use for the given provider.
func (s *Store) ActiveCredential(ctx context.Context, providerID uint64) (provider.Credential, error) {
	if s == nil || s.db == nil {
		return provider.Credential{}, fmt.Errorf("credentials: store not initialized")
	}
	if providerID == 0 {
		return provider.Credential{}, ErrNoCredential
	}

	var keys []models.ProviderAPIKey
	if errFind := s.db.WithContext(ctx).
		Where("provider_id = ? AND is_enabled = ?", providerID, true).
		Order("priority ASC, id ASC").
		Find(&keys).Error; errFind != nil {
		return provider.Credential{}, fmt.Errorf("credentials: list keys: %w", errFind)
	}
	if len(keys) == 0 {
		return provider.Credential{}, ErrNoCredential
	}

	// Restrict rotation to the best priority group.
	best := keys[0].Priority
	group := keys[:0:0]
	for _, key := range keys {
		if key.Priority != best {
			break
		}
		group = append(group, key)
	}

	selected := group[0]
	if len(group) > 1 {
		index := s.cursor(providerID).Add(1) - 1
		selected = group[index%uint64(len(group))]
	}
	return toCredential(selected), nil
}

func (s *Store) cursor(providerID uint64) *atomic.Uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor, ok := s.cursors[providerID]
	if !ok {
		cursor = &atomic.Uint64{}
		s.cursors[providerID] = cursor
	}
	return cursor
}

func toCredential(key models.ProviderAPIKey) provider.Credential {
	cred := provider.Credential{
		APIKey:  strings.TrimSpace(key.APIKey),
		BaseURL: strings.TrimSpace(key.BaseURL),
	}
	if len(key.Headers) > 0 {
		headers := map[string]string{}
		if errParse := json.Unmarshal(key.Headers, &headers); errParse == nil && len(headers) > 0 {
			cred.Headers = headers
		}
	}
	return cred
}
