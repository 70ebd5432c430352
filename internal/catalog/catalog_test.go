package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/modo-studio/modo-dispatch/internal/db"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"gorm.io/gorm"
)

func newTestCatalog(t *testing.T) (*GormRepository, *gorm.DB, models.Provider) {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "catalog-test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(&models.Provider{}, &models.Model{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	prov := models.Provider{Slug: "openai", Name: "OpenAI", IsEnabled: true}
	if errCreate := conn.Create(&prov).Error; errCreate != nil {
		t.Fatalf("seed provider: %v", errCreate)
	}
	return NewGormRepository(conn), conn, prov
}

func TestListActiveModels(t *testing.T) {
	repo, conn, prov := newTestCatalog(t)

	rows := []models.Model{
		{ProviderID: prov.ID, ModelID: "gpt-5", Modality: models.ModalityText, IsActive: true},
		{ProviderID: prov.ID, ModelID: "retired", Modality: models.ModalityText, IsActive: false},
		{ProviderID: prov.ID, ModelID: "sdxl", Modality: models.ModalityImage, IsActive: true},
	}
	for i := range rows {
		if errCreate := conn.Create(&rows[i]).Error; errCreate != nil {
			t.Fatalf("seed model %d: %v", i, errCreate)
		}
	}

	active, err := repo.ListActiveModels(context.Background(), models.ModalityText)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ModelID != "gpt-5" {
		t.Fatalf("expected only the active text model, got %+v", active)
	}
	if active[0].Provider.Slug != "openai" {
		t.Fatalf("expected provider preloaded, got %+v", active[0].Provider)
	}
}

func TestDefaultModel(t *testing.T) {
	repo, conn, prov := newTestCatalog(t)

	if _, err := repo.DefaultModel(context.Background(), models.ModalityText); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound with empty catalog, got %v", err)
	}

	def := models.Model{ProviderID: prov.ID, ModelID: "gpt-4o-mini", Modality: models.ModalityText, IsActive: true, IsDefault: true}
	if errCreate := conn.Create(&def).Error; errCreate != nil {
		t.Fatalf("seed default: %v", errCreate)
	}

	got, err := repo.DefaultModel(context.Background(), models.ModalityText)
	if err != nil {
		t.Fatalf("default model: %v", err)
	}
	if got.ModelID != "gpt-4o-mini" {
		t.Fatalf("expected gpt-4o-mini, got %q", got.ModelID)
	}
}

func TestSetDefaultModel_ClearsPrevious(t *testing.T) {
	_, conn, prov := newTestCatalog(t)

	old := models.Model{ProviderID: prov.ID, ModelID: "gpt-4o", Modality: models.ModalityText, IsActive: true, IsDefault: true}
	next := models.Model{ProviderID: prov.ID, ModelID: "gpt-5", Modality: models.ModalityText, IsActive: true}
	if errCreate := conn.Create(&old).Error; errCreate != nil {
		t.Fatalf("seed old default: %v", errCreate)
	}
	if errCreate := conn.Create(&next).Error; errCreate != nil {
		t.Fatalf("seed next default: %v", errCreate)
	}

	if err := SetDefaultModel(context.Background(), conn, next.ID); err != nil {
		t.Fatalf("set default: %v", err)
	}

	var count int64
	if errCount := conn.Model(&models.Model{}).
		Where("modality = ? AND is_default = ?", models.ModalityText, true).
		Count(&count).Error; errCount != nil {
		t.Fatalf("count defaults: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected exactly one default, got %d", count)
	}

	var reloaded models.Model
	if errFind := conn.First(&reloaded, next.ID).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if !reloaded.IsDefault {
		t.Fatalf("expected new default flagged")
	}
}

func TestSetDefaultModel_NotFound(t *testing.T) {
	_, conn, _ := newTestCatalog(t)

	if err := SetDefaultModel(context.Background(), conn, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
