package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/confops/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
	defaultMaxAttempts     = 10
)

type outboxEventPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type deadLetterPruner interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// OutboxRetentionJobParams wires the outbox cleanup. MaxAttempts must match
// the publisher's ceiling so rows it gave up on age out with the published
// ones. DeadLetters is optional.
type OutboxRetentionJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Events       outboxEventPruner
	DeadLetters  deadLetterPruner
	Retention    time.Duration
	DLQRetention time.Duration
	MaxAttempts  int
	Now          func() time.Time
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	db           txRunner
	events       outboxEventPruner
	deadLetters  deadLetterPruner
	retention    time.Duration
	dlqRetention time.Duration
	maxAttempts  int
	now          func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:         params.Logger,
		db:           params.DB,
		events:       params.Events,
		deadLetters:  params.DeadLetters,
		retention:    params.Retention,
		dlqRetention: params.DLQRetention,
		maxAttempts:  params.MaxAttempts,
		now:          params.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.dlqRetention <= 0 {
		job.dlqRetention = defaultDLQRetention
	}
	if job.maxAttempts <= 0 {
		job.maxAttempts = defaultMaxAttempts
	}
	if job.now == nil {
		job.now = time.Now
	}
	return job, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	eventCutoff := now.Add(-j.retention)
	dlqCutoff := now.Add(-j.dlqRetention)

	var events, deadLetters int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if events, err = j.events.DeletePublishedBefore(ctx, tx, eventCutoff, j.maxAttempts); err != nil {
			return fmt.Errorf("events: %w", err)
		}
		if j.deadLetters == nil {
			return nil
		}
		if deadLetters, err = j.deadLetters.DeleteFailedBefore(ctx, tx, dlqCutoff); err != nil {
			return fmt.Errorf("dead letters: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"event_cutoff":         eventCutoff,
		"dlq_cutoff":           dlqCutoff,
		"events_deleted":       events,
		"dead_letters_deleted": deadLetters,
	}), "alert event outbox pruned")
	return nil
}
