package devicetokens

import (
	"context"
	"time"

	"github.com/angelmondragon/confops/pkg/db/models"
	"github.com/angelmondragon/confops/pkg/enums"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository exposes persistence helpers for device tokens.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, token *models.DeviceToken) error
	FindByToken(ctx context.Context, token string) (*models.DeviceToken, error)
	ListByRoles(ctx context.Context, roles []enums.Role) ([]models.DeviceToken, error)
	ListByUser(ctx context.Context, userID string) ([]models.DeviceToken, error)
	DeleteForUser(ctx context.Context, userID, token string) (int64, error)
	DeleteTokens(ctx context.Context, tokens []string) (int64, error)
	DeleteObtainedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a device token repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

// Upsert inserts the token or, when it already exists, moves it to the new owner.
func (r *repositoryImpl) Upsert(ctx context.Context, token *models.DeviceToken) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "role", "platform", "obtained_at", "updated_at"}),
		}).
		Create(token).Error
}

func (r *repositoryImpl) FindByToken(ctx context.Context, token string) (*models.DeviceToken, error) {
	var row models.DeviceToken
	if err := r.db.WithContext(ctx).Where("token = ?", token).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repositoryImpl) ListByRoles(ctx context.Context, roles []enums.Role) ([]models.DeviceToken, error) {
	query := r.db.WithContext(ctx).Model(&models.DeviceToken{})
	if len(roles) > 0 {
		query = query.Where("role IN ?", roles)
	}
	var rows []models.DeviceToken
	if err := query.Order("obtained_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repositoryImpl) ListByUser(ctx context.Context, userID string) ([]models.DeviceToken, error) {
	var rows []models.DeviceToken
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("obtained_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repositoryImpl) DeleteForUser(ctx context.Context, userID, token string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND token = ?", userID, token).
		Delete(&models.DeviceToken{})
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) DeleteTokens(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Where("token IN ?", tokens).
		Delete(&models.DeviceToken{})
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) DeleteObtainedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("obtained_at < ?", cutoff).
		Delete(&models.DeviceToken{})
	return result.RowsAffected, result.Error
}
