package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/modo-studio/modo-dispatch/internal/catalog"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"gorm.io/gorm"
)

// Repository provides read access to fallback chain entries.
type Repository interface {
	// Entries returns the chain entries scoped to exactly (tier, modality),
	// ascending by priority, with the catalog model and provider loaded.
	Entries(ctx context.Context, tier models.Tier, modality models.Modality) ([]models.ChainEntry, error)
}

// GormRepository reads chain entries from the application database.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository constructs a GormRepository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Entries returns chain entries for (tier, modality) ascending by priority.
func (r *GormRepository) Entries(ctx context.Context, tier models.Tier, modality models.Modality) ([]models.ChainEntry, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("chain: not initialized")
	}
	var rows []models.ChainEntry
	if errFind := r.db.WithContext(ctx).
		Preload("Model").
		Preload("Model.Provider").
		Where("tier = ? AND modality = ?", tier, modality).
		Order("priority ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("chain: list entries: %w", errFind)
	}
	return rows, nil
}

type cacheEntry struct {
	candidates []models.Model
	loadedAt   time.Time
}

// Resolver produces the ordered candidate list for a (tier, modality) pair.
//
// Tier-specific entries are tried as a block before the all-tier defaults,
// each block ascending by priority, deduplicated by catalog model with the
// first occurrence winning. Inactive models and disabled providers are
// silently skipped. An empty result falls back to the catalog's default
// model for the modality; if none exists the chain is empty.
type Resolver struct {
	repo    Repository
	catalog catalog.Repository
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewResolver constructs a Resolver. A non-positive ttl disables caching so
// every Resolve reads the configuration fresh.
func NewResolver(repo Repository, cat catalog.Repository, ttl time.Duration) *Resolver {
	return &Resolver{
		repo:    repo,
		catalog: cat,
		ttl:     ttl,
		cache:   make(map[string]cacheEntry),
	}
}

// Resolve returns the ordered candidate models for (tier, modality).
// An empty slice means no provider is configured; that is not an error.
func (r *Resolver) Resolve(ctx context.Context, tier models.Tier, modality models.Modality) ([]models.Model, error) {
	if r == nil || r.repo == nil {
		return nil, fmt.Errorf("chain: resolver not initialized")
	}

	key := string(tier) + "\x00" + string(modality)
	if r.ttl > 0 {
		r.mu.Lock()
		entry, ok := r.cache[key]
		r.mu.Unlock()
		if ok && time.Since(entry.loadedAt) < r.ttl {
			return append([]models.Model(nil), entry.candidates...), nil
		}
	}

	candidates, errLoad := r.load(ctx, tier, modality)
	if errLoad != nil {
		return nil, errLoad
	}

	if r.ttl > 0 {
		r.mu.Lock()
		r.cache[key] = cacheEntry{candidates: candidates, loadedAt: time.Now()}
		r.mu.Unlock()
	}
	return append([]models.Model(nil), candidates...), nil
}

// Invalidate drops all cached chains. Admin mutations call this so operator
// changes take effect on the next request.
func (r *Resolver) Invalidate() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
}

func (r *Resolver) load(ctx context.Context, tier models.Tier, modality models.Modality) ([]models.Model, error) {
	tierRows, errTier := r.repo.Entries(ctx, tier, modality)
	if errTier != nil {
		return nil, errTier
	}
	allRows, errAll := r.repo.Entries(ctx, models.TierAll, modality)
	if errAll != nil {
		return nil, errAll
	}

	sortByPriority(tierRows)
	sortByPriority(allRows)

	seen := make(map[uint64]struct{}, len(tierRows)+len(allRows))
	out := make([]models.Model, 0, len(tierRows)+len(allRows))
	for _, rows := range [][]models.ChainEntry{tierRows, allRows} {
		for _, entry := range rows {
			if _, dup := seen[entry.ModelID]; dup {
				continue
			}
			seen[entry.ModelID] = struct{}{}
			if !entry.Model.IsActive || !entry.Model.Provider.IsEnabled {
				continue
			}
			out = append(out, entry.Model)
		}
	}
	if len(out) > 0 {
		return out, nil
	}

	if r.catalog == nil {
		return nil, nil
	}
	def, errDefault := r.catalog.DefaultModel(ctx, modality)
	if errDefault != nil {
		if errors.Is(errDefault, catalog.ErrNotFound) {
			return nil, nil
		}
		return nil, errDefault
	}
	if !def.Provider.IsEnabled {
		return nil, nil
	}
	return []models.Model{def}, nil
}

func sortByPriority(rows []models.ChainEntry) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Priority < rows[j].Priority })
}
