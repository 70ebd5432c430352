package chain

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/modo-studio/modo-dispatch/internal/catalog"
	"github.com/modo-studio/modo-dispatch/internal/db"
	"github.com/modo-studio/modo-dispatch/internal/models"
)

type stubRepo struct {
	entries map[models.Tier][]models.ChainEntry
	calls   int
}

func (s *stubRepo) Entries(_ context.Context, tier models.Tier, _ models.Modality) ([]models.ChainEntry, error) {
	s.calls++
	return s.entries[tier], nil
}

type stubCatalog struct {
	def    models.Model
	defErr error
}

func (s *stubCatalog) ListActiveModels(context.Context, models.Modality) ([]models.Model, error) {
	return nil, nil
}

func (s *stubCatalog) DefaultModel(context.Context, models.Modality) (models.Model, error) {
	return s.def, s.defErr
}

func (s *stubCatalog) ModelByID(context.Context, uint64) (models.Model, error) {
	return models.Model{}, catalog.ErrNotFound
}

func activeModel(id uint64, modelID string) models.Model {
	return models.Model{
		ID:       id,
		ModelID:  modelID,
		Modality: models.ModalityText,
		IsActive: true,
		Provider: models.Provider{Slug: "openai", IsEnabled: true},
	}
}

func entry(tier models.Tier, priority int, model models.Model) models.ChainEntry {
	return models.ChainEntry{
		Tier:     tier,
		Modality: models.ModalityText,
		Priority: priority,
		ModelID:  model.ID,
		Model:    model,
	}
}

func TestResolve_TierBlockBeforeSharedDefaults(t *testing.T) {
	premium := activeModel(1, "gpt-5")
	shared := activeModel(2, "gpt-4o-mini")
	repo := &stubRepo{entries: map[models.Tier][]models.ChainEntry{
		models.TierStudio: {entry(models.TierStudio, 2, premium)},
		models.TierAll:    {entry(models.TierAll, 1, shared)},
	}}

	resolver := NewResolver(repo, &stubCatalog{defErr: catalog.ErrNotFound}, 0)
	candidates, err := resolver.Resolve(context.Background(), models.TierStudio, models.ModalityText)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].ModelID != "gpt-5" || candidates[1].ModelID != "gpt-4o-mini" {
		t.Fatalf("expected tier entries before shared defaults, got %q then %q", candidates[0].ModelID, candidates[1].ModelID)
	}
}

func TestResolve_DeduplicatesByModel(t *testing.T) {
	shared := activeModel(7, "sdxl")
	repo := &stubRepo{entries: map[models.Tier][]models.ChainEntry{
		models.TierCreator: {entry(models.TierCreator, 1, shared)},
		models.TierAll:     {entry(models.TierAll, 1, shared)},
	}}

	resolver := NewResolver(repo, &stubCatalog{defErr: catalog.ErrNotFound}, 0)
	candidates, err := resolver.Resolve(context.Background(), models.TierCreator, models.ModalityText)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected deduplicated single candidate, got %d", len(candidates))
	}
}

func TestResolve_SkipsInactiveAndDisabled(t *testing.T) {
	inactive := activeModel(1, "retired")
	inactive.IsActive = false
	disabledProvider := activeModel(2, "offline")
	disabledProvider.Provider.IsEnabled = false
	healthy := activeModel(3, "gpt-4o")

	repo := &stubRepo{entries: map[models.Tier][]models.ChainEntry{
		models.TierAll: {
			entry(models.TierAll, 1, inactive),
			entry(models.TierAll, 2, disabledProvider),
			entry(models.TierAll, 3, healthy),
		},
	}}

	resolver := NewResolver(repo, &stubCatalog{defErr: catalog.ErrNotFound}, 0)
	candidates, err := resolver.Resolve(context.Background(), models.TierTrial, models.ModalityText)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ModelID != "gpt-4o" {
		t.Fatalf("expected only the healthy candidate, got %+v", candidates)
	}
}

func TestResolve_FallsBackToCatalogDefault(t *testing.T) {
	def := activeModel(9, "fallback-model")
	resolver := NewResolver(&stubRepo{}, &stubCatalog{def: def}, 0)

	candidates, err := resolver.Resolve(context.Background(), models.TierTrial, models.ModalityText)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ModelID != "fallback-model" {
		t.Fatalf("expected catalog default fallback, got %+v", candidates)
	}
}

func TestResolve_EmptyWhenNothingConfigured(t *testing.T) {
	resolver := NewResolver(&stubRepo{}, &stubCatalog{defErr: catalog.ErrNotFound}, 0)

	candidates, err := resolver.Resolve(context.Background(), models.TierTrial, models.ModalityText)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected empty chain, got %+v", candidates)
	}
}

func TestResolve_CacheAndInvalidate(t *testing.T) {
	repo := &stubRepo{entries: map[models.Tier][]models.ChainEntry{
		models.TierAll: {entry(models.TierAll, 1, activeModel(1, "gpt-4o"))},
	}}
	resolver := NewResolver(repo, &stubCatalog{defErr: catalog.ErrNotFound}, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := resolver.Resolve(context.Background(), models.TierTrial, models.ModalityText); err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
	}
	if repo.calls != 2 {
		t.Fatalf("expected 2 repository reads for a cached chain, got %d", repo.calls)
	}

	resolver.Invalidate()
	if _, err := resolver.Resolve(context.Background(), models.TierTrial, models.ModalityText); err != nil {
		t.Fatalf("resolve after invalidate: %v", err)
	}
	if repo.calls != 4 {
		t.Fatalf("expected fresh reads after invalidate, got %d", repo.calls)
	}
}

func TestGormRepository_ScopedAndOrdered(t *testing.T) {
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "chain-test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(&models.Provider{}, &models.Model{}, &models.ChainEntry{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	prov := models.Provider{Slug: "openai", Name: "OpenAI", IsEnabled: true}
	if errCreate := conn.Create(&prov).Error; errCreate != nil {
		t.Fatalf("seed provider: %v", errCreate)
	}
	first := models.Model{ProviderID: prov.ID, ModelID: "gpt-5", Modality: models.ModalityText, IsActive: true}
	second := models.Model{ProviderID: prov.ID, ModelID: "gpt-4o", Modality: models.ModalityText, IsActive: true}
	if errCreate := conn.Create(&first).Error; errCreate != nil {
		t.Fatalf("seed model: %v", errCreate)
	}
	if errCreate := conn.Create(&second).Error; errCreate != nil {
		t.Fatalf("seed model: %v", errCreate)
	}

	rows := []models.ChainEntry{
		{Tier: models.TierStudio, Modality: models.ModalityText, Priority: 2, ModelID: second.ID},
		{Tier: models.TierStudio, Modality: models.ModalityText, Priority: 1, ModelID: first.ID},
		{Tier: models.TierStudio, Modality: models.ModalityImage, Priority: 1, ModelID: first.ID},
		{Tier: models.TierTrial, Modality: models.ModalityText, Priority: 1, ModelID: second.ID},
	}
	for i := range rows {
		if errCreate := conn.Create(&rows[i]).Error; errCreate != nil {
			t.Fatalf("seed entry %d: %v", i, errCreate)
		}
	}

	repo := NewGormRepository(conn)
	entries, errList := repo.Entries(context.Background(), models.TierStudio, models.ModalityText)
	if errList != nil {
		t.Fatalf("entries: %v", errList)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 scoped entries, got %d", len(entries))
	}
	if entries[0].Priority != 1 || entries[0].Model.ModelID != "gpt-5" {
		t.Fatalf("expected priority 1 first, got priority=%d model=%q", entries[0].Priority, entries[0].Model.ModelID)
	}
	if entries[1].Model.Provider.Slug != "openai" {
		t.Fatalf("expected provider preloaded, got %+v", entries[1].Model.Provider)
	}
}
