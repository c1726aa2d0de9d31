// Package relay publishes committed outbox rows to Pub/Sub.
//
// Each batch runs in one transaction: rows are claimed with SKIP LOCKED,
// published one by one, and marked before commit. Several relays can share
// the table. A crash after a publish but before commit sends the row again;
// consumers dedupe on the envelope's event id.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/db/models"
	"github.com/angelmondragon/confops/pkg/enums"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/metrics"
	"github.com/angelmondragon/confops/pkg/outbox/catalog"
)

// Sink delivers one message to a topic and returns the broker's message id.
// Validation-coded errors mean the message can never be accepted.
type Sink interface {
	Send(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
}

type txStore interface {
	Ping(ctx context.Context) error
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type rowStore interface {
	ClaimBatch(ctx context.Context, tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
	RecordFailure(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error) error
	Retire(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error, ceiling int) error
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type router interface {
	Route(row models.OutboxEvent) (catalog.Route, error)
}

// Settings tune batching and retry.
type Settings struct {
	BatchSize      int
	MaxAttempts    int
	PollInterval   time.Duration
	PublishTimeout time.Duration
	MaxBackoff     time.Duration
}

// SettingsFrom reads the outbox config and fills defaults for unset values.
func SettingsFrom(cfg config.OutboxConfig) Settings {
	return Settings{
		BatchSize:    cfg.BatchSize,
		MaxAttempts:  cfg.MaxAttempts,
		PollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
	}.withDefaults()
}

func (s Settings) withDefaults() Settings {
	if s.BatchSize <= 0 {
		s.BatchSize = 50
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 10
	}
	if s.PollInterval <= 0 {
		s.PollInterval = 500 * time.Millisecond
	}
	if s.PublishTimeout <= 0 {
		s.PublishTimeout = 15 * time.Second
	}
	if s.MaxBackoff <= 0 {
		s.MaxBackoff = 10 * time.Second
	}
	return s
}

type Params struct {
	Logger      *logger.Logger
	Store       txStore
	Rows        rowStore
	DeadLetters deadLetterStore
	Router      router
	Sink        Sink
	Metrics     *metrics.RelayMetrics
	Settings    Settings
	Now         func() time.Time
}

type Relay struct {
	logg     *logger.Logger
	store    txStore
	rows     rowStore
	dlq      deadLetterStore
	router   router
	sink     Sink
	metrics  *metrics.RelayMetrics
	settings Settings
	now      func() time.Time
}

func New(p Params) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.Store == nil:
		return nil, errors.New("database client is required")
	case p.Rows == nil:
		return nil, errors.New("outbox repository is required")
	case p.DeadLetters == nil:
		return nil, errors.New("dead letter repository is required")
	case p.Router == nil:
		return nil, errors.New("event catalog is required")
	case p.Sink == nil:
		return nil, errors.New("pubsub sink is required")
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Relay{
		logg:     p.Logger,
		store:    p.Store,
		rows:     p.Rows,
		dlq:      p.DeadLetters,
		router:   p.Router,
		sink:     p.Sink,
		metrics:  p.Metrics,
		settings: p.Settings.withDefaults(),
		now:      now,
	}, nil
}

// Run drains batches until ctx ends. A full batch is followed at once by the
// next; a short one waits a poll interval; a failed one backs off
// exponentially with jitter up to MaxBackoff.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var backoff retry.Backoff
	for {
		n, err := r.Drain(ctx)
		if ctx.Err() != nil {
			r.logg.Info(ctx, "outbox relay stopping")
			return ctx.Err()
		}
		wait := r.settings.PollInterval
		switch {
		case err != nil:
			if backoff == nil {
				backoff = r.newBackoff()
			}
			wait, _ = backoff.Next()
			r.logg.Error(r.logg.WithField(ctx, "retry_in_ms", wait.Milliseconds()), "outbox batch failed", err)
		case n >= r.settings.BatchSize:
			backoff = nil
			continue
		default:
			backoff = nil
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *Relay) newBackoff() retry.Backoff {
	b := retry.NewExponential(r.settings.PollInterval)
	b = retry.WithJitterPercent(20, b)
	return retry.WithCappedDuration(r.settings.MaxBackoff, b)
}

// Drain relays one batch and returns how many rows it settled.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	settled := 0
	err := r.store.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.rows.ClaimBatch(ctx, tx, r.settings.BatchSize, r.settings.MaxAttempts)
		if err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}
		for _, row := range rows {
			if err := r.settle(ctx, tx, row); err != nil {
				return err
			}
			settled++
		}
		return nil
	})
	if settled > 0 || err != nil {
		r.metrics.ObserveBatch(err)
	}
	if err != nil {
		return 0, err
	}
	return settled, nil
}

// settle publishes one row and records the outcome. A returned error aborts
// the whole batch; per-row failures are recorded, not returned.
func (r *Relay) settle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) error {
	logCtx := r.logg.WithFields(ctx, rowFields(row))

	route, err := r.router.Route(row)
	if err != nil {
		return r.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}
	logCtx = r.logg.WithFields(logCtx, map[string]any{
		"event_id": route.Envelope.EventID,
		"topic":    route.Topic,
	})

	msgID, err := r.publish(ctx, row, route)
	attempt := row.AttemptCount + 1
	switch {
	case err == nil:
		if err := r.rows.MarkPublished(ctx, tx, row.ID, r.now()); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.metrics.ObserveRow(string(row.EventType), metrics.RelayPublished, r.now().Sub(route.Envelope.OccurredAt))
		r.logg.Info(r.logg.WithField(logCtx, "message_id", msgID), "outbox event published")
		return nil
	case pkgerrors.IsCode(err, pkgerrors.CodeValidation):
		return r.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	case attempt >= r.settings.MaxAttempts:
		return r.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("gave up after %d attempts: %w", attempt, err))
	default:
		if err := r.rows.RecordFailure(ctx, tx, row.ID, err); err != nil {
			return fmt.Errorf("record failure %s: %w", row.ID, err)
		}
		r.metrics.ObserveRow(string(row.EventType), metrics.RelayRetried, 0)
		r.logg.Warn(r.logg.WithFields(logCtx, map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		}), "outbox publish failed, will retry")
		return nil
	}
}

func (r *Relay) publish(ctx context.Context, row models.OutboxEvent, route catalog.Route) (string, error) {
	attrs := map[string]string{
		"event_id":       route.Envelope.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"schema_version": strconv.Itoa(route.Envelope.SchemaVersion()),
		"occurred_at":    route.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	sendCtx, cancel := context.WithTimeout(ctx, r.settings.PublishTimeout)
	defer cancel()
	return r.sink.Send(sendCtx, route.Topic, row.Payload, attrs)
}

// deadLetter parks the row in outbox_dlq and retires it, in the batch tx.
func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	entry := row.DeadLetter(reason, cause, r.now())
	if err := r.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dead letter %s: %w", row.ID, err)
	}
	if err := r.rows.Retire(ctx, tx, row.ID, cause, r.settings.MaxAttempts); err != nil {
		return fmt.Errorf("retire %s: %w", row.ID, err)
	}
	r.metrics.ObserveRow(string(row.EventType), metrics.RelayDeadLettered, 0)
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
	}), "outbox event dead-lettered")
	return nil
}

func rowFields(row models.OutboxEvent) map[string]any {
	return map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
