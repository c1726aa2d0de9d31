package alertfeed

import (
	"context"
	"time"

	"github.com/angelmondragon/confops/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes persistence helpers for alerts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, alert *models.Alert) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Alert, error)
	ListSince(ctx context.Context, since time.Time, limit int) ([]models.Alert, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) (int64, error)
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an alerts repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, alert *models.Alert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	var row models.Alert
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repositoryImpl) ListSince(ctx context.Context, since time.Time, limit int) ([]models.Alert, error) {
	query := r.db.WithContext(ctx).Model(&models.Alert{})
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.Alert
	if err := query.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repositoryImpl) Update(ctx context.Context, id uuid.UUID, updates map[string]any) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Alert{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repositoryImpl) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.Alert{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
