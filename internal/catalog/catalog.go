package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/modo-studio/modo-dispatch/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound indicates no catalog model matched the lookup.
var ErrNotFound = errors.New("catalog: model not found")

// Repository provides read access to the model catalog.
type Repository interface {
	// ListActiveModels returns all active models for a modality, in no
	// particular order.
	ListActiveModels(ctx context.Context, modality models.Modality) ([]models.Model, error)
	// DefaultModel returns the modality's default-flagged active model.
	DefaultModel(ctx context.Context, modality models.Modality) (models.Model, error)
	// ModelByID returns one model by primary key regardless of active state.
	ModelByID(ctx context.Context, id uint64) (models.Model, error)
}

// GormRepository reads the catalog from the application database.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository constructs a GormRepository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// ListActiveModels returns all active models for the given modality.
func (r *GormRepository) ListActiveModels(ctx context.Context, modality models.Modality) ([]models.Model, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("catalog: not initialized")
	}
	var rows []models.Model
	if errFind := r.db.WithContext(ctx).
		Preload("Provider").
		Where("modality = ? AND is_active = ?", modality, true).
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("catalog: list active models: %w", errFind)
	}
	return rows, nil
}

// DefaultModel returns the single default-flagged active model for a modality.
func (r *GormRepository) DefaultModel(ctx context.Context, modality models.Modality) (models.Model, error) {
	if r == nil || r.db == nil {
		return models.Model{}, fmt.Errorf("catalog: not initialized")
	}
	var row models.Model
	errFind := r.db.WithContext(ctx).
		Preload("Provider").
		Where("modality = ? AND is_default = ? AND is_active = ?", modality, true, true).
		Take(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.Model{}, ErrNotFound
		}
		return models.Model{}, fmt.Errorf("catalog: default model: %w", errFind)
	}
	return row, nil
}

// ModelByID returns one model by primary key.
func (r *GormRepository) ModelByID(ctx context.Context, id uint64) (models.Model, error) {
	if r == nil || r.db == nil {
		return models.Model{}, fmt.Errorf("catalog: not initialized")
	}
	var row models.Model
	errFind := r.db.WithContext(ctx).Preload("Provider").First(&row, id).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.Model{}, ErrNotFound
		}
		return models.Model{}, fmt.Errorf("catalog: model by id: %w", errFind)
	}
	return row, nil
}

// SetDefaultModel flags one model as its modality's default, clearing any
// previous default in the same transaction.
func SetDefaultModel(ctx context.Context, db *gorm.DB, id uint64) error {
	if db == nil {
		return fmt.Errorf("catalog: nil db")
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target models.Model
		if errFind := tx.First(&target, id).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("catalog: set default: %w", errFind)
		}
		if errClear := tx.Model(&models.Model{}).
			Where("modality = ? AND is_default = ?", target.Modality, true).
			Update("is_default", false).Error; errClear != nil {
			return fmt.Errorf("catalog: clear default: %w", errClear)
		}
		if errSet := tx.Model(&models.Model{}).
			Where("id = ?", id).
			Update("is_default", true).Error; errSet != nil {
			return fmt.Errorf("catalog: set default: %w", errSet)
		}
		return nil
	})
}
