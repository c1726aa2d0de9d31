package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/confops/pkg/db/models"
)

var errNoTx = errors.New("outbox: transaction required")

// Repository is the outbox_events table. Every write runs on a caller tx.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, row models.OutboxEvent) error {
	if tx == nil {
		return errNoTx
	}
	return tx.Create(&row).Error
}

// ClaimBatch row-locks the oldest unpublished rows still under the attempt
// ceiling. SKIP LOCKED lets several relays share the table; SQLite has no row
// locks and the clause is dropped there.
func (r *Repository) ClaimBatch(ctx context.Context, tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errNoTx
	}
	var rows []models.OutboxEvent
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
		Where("published_at IS NULL").
		Where("attempt_count < ?", maxAttempts).
		Order("created_at, id").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return r.update(ctx, tx, id, map[string]any{"published_at": at.UTC()})
}

// RecordFailure bumps attempt_count and keeps the latest error for operators.
func (r *Repository) RecordFailure(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error) error {
	return r.update(ctx, tx, id, map[string]any{
		"last_error":    models.ErrorText(cause),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// Retire pins attempt_count at ceiling so ClaimBatch never returns the row again.
func (r *Repository) Retire(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error, ceiling int) error {
	return r.update(ctx, tx, id, map[string]any{
		"last_error":    models.ErrorText(cause),
		"attempt_count": ceiling,
	})
}

// DeletePublishedBefore removes rows older than cutoff that were published or
// retired after minAttemptCount tries. Retired rows already have a dead letter.
func (r *Repository) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	if tx == nil {
		return 0, errNoTx
	}
	result := tx.WithContext(ctx).
		Where("published_at < ?", cutoff).
		Or("published_at IS NULL AND attempt_count >= ? AND created_at < ?", minAttemptCount, cutoff).
		Delete(&models.OutboxEvent{})
	return result.RowsAffected, result.Error
}

func (r *Repository) update(ctx context.Context, tx *gorm.DB, id uuid.UUID, cols map[string]any) error {
	if tx == nil {
		return errNoTx
	}
	return tx.WithContext(ctx).Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(cols).Error
}
