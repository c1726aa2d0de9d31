// Package alertfeed is the server-side alert intake: it persists alerts,
// queues their push events on the outbox and mirrors them into the realtime
// collection the dashboards listen on.
package alertfeed

import (
	"context"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/angelmondragon/confops/internal/alerts"
	"github.com/angelmondragon/confops/internal/realtime"
	"github.com/angelmondragon/confops/pkg/db/models"
	"github.com/angelmondragon/confops/pkg/enums"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/outbox"
	"github.com/angelmondragon/confops/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	maxMessageLength = 2000
	maxReplyLength   = 2000
	defaultListLimit = 50
	maxListLimit     = 200
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.Event) error
}

// Service raises, answers and lists alerts.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*alerts.Record, error)
	Reply(ctx context.Context, input ReplyInput) (*alerts.Record, error)
	UpdateStatus(ctx context.Context, input StatusInput) (*alerts.Record, error)
	ListRecent(ctx context.Context, since time.Time, limit int) ([]alerts.Record, error)
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// CreateInput raises a new alert from a council room.
type CreateInput struct {
	Type       string
	Council    string
	Message    string
	Priority   enums.AlertPriority
	TargetRole *enums.Role
	Actor      *outbox.Actor
}

// ReplyInput answers an alert. Status defaults to acknowledged.
type ReplyInput struct {
	AlertID uuid.UUID
	Reply   string
	Status  enums.AlertStatus
	Actor   *outbox.Actor
}

// StatusInput moves an alert forward without a reply.
type StatusInput struct {
	AlertID uuid.UUID
	Status  enums.AlertStatus
	Actor   *outbox.Actor
}

// ServiceParams wires the alert service. Realtime is optional; without it
// alerts only reach devices through push.
type ServiceParams struct {
	Repo       Repository
	Tx         txRunner
	Outbox     outboxEmitter
	Realtime   realtime.Store
	Collection string
	Logger     *logger.Logger
	Now        func() time.Time
}

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxEmitter
	realtime   realtime.Store
	collection string
	logg       *logger.Logger
	now        func() time.Time
}

// NewService validates dependencies and returns the alert service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "alerts repository required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox service required")
	}
	collection := strings.Trim(params.Collection, "/")
	if collection == "" {
		collection = "alerts"
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:       params.Repo,
		tx:         params.Tx,
		outbox:     params.Outbox,
		realtime:   params.Realtime,
		collection: collection,
		logg:       logg,
		now:        now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*alerts.Record, error) {
	input.Type = strings.TrimSpace(input.Type)
	input.Council = strings.TrimSpace(input.Council)
	input.Message = strings.TrimSpace(input.Message)
	if input.Type == "" {
		input.Type = string(enums.PayloadTypeAlert)
	}
	if input.Council == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "council is required")
	}
	if input.Message == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message is required")
	}
	if len(input.Message) > maxMessageLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message too long")
	}
	if input.Priority == "" {
		input.Priority = enums.AlertPriorityNormal
	}
	if !input.Priority.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid priority")
	}
	if input.TargetRole != nil && !input.TargetRole.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target role")
	}

	row := &models.Alert{
		ID:         uuid.New(),
		Type:       input.Type,
		Council:    input.Council,
		Message:    input.Message,
		Status:     enums.AlertStatusPending,
		Priority:   input.Priority,
		TargetRole: input.TargetRole,
		CreatedAt:  s.now().UTC(),
		UpdatedAt:  s.now().UTC(),
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, row); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist alert")
		}
		event := outbox.Event{
			EventType:     enums.EventAlertCreated,
			AggregateType: enums.AggregateAlert,
			AggregateID:   row.ID,
			Actor:         input.Actor,
			Version:       1,
			OccurredAt:    s.now().UTC(),
			Data: payloads.AlertCreatedEvent{
				AlertID:   row.ID,
				Type:      row.Type,
				Council:   row.Council,
				Message:   row.Message,
				Priority:  row.Priority,
				Roles:     targetRoles(row.TargetRole),
				CreatedAt: row.CreatedAt,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue alert event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	record := ToRecord(*row)
	logCtx := s.logg.WithAlertID(ctx, record.ID)
	if s.realtime != nil && !s.realtime.Write(ctx, realtime.Join(s.collection, record.ID), record) {
		s.logg.Warn(logCtx, "alert stored but realtime write failed")
	}
	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"council":  record.Council,
		"priority": record.Priority,
	}), "alert raised")
	return &record, nil
}

func (s *service) Reply(ctx context.Context, input ReplyInput) (*alerts.Record, error) {
	if input.AlertID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "alert id required")
	}
	input.Reply = strings.TrimSpace(input.Reply)
	if input.Reply == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reply is required")
	}
	if len(input.Reply) > maxReplyLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reply too long")
	}
	if input.Status == "" {
		input.Status = enums.AlertStatusAcknowledged
	}
	if !input.Status.IsValid() || input.Status == enums.AlertStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reply status must be acknowledged or resolved")
	}

	var updated models.Alert
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, input.AlertID)
		if err != nil {
			return err
		}
		if current.Status == enums.AlertStatusResolved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "alert already resolved").
				WithDetails(map[string]any{"status": current.Status})
		}
		status := input.Status
		if statusRank(current.Status) > statusRank(status) {
			status = current.Status
		}
		reply := input.Reply
		if _, err := repo.Update(ctx, current.ID, map[string]any{
			"reply":      reply,
			"status":     status,
			"updated_at": s.now().UTC(),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update alert")
		}
		current.Reply = &reply
		current.Status = status
		updated = *current

		return s.emit(ctx, tx, enums.EventAlertReplied, current.ID, input.Actor, payloads.AlertRepliedEvent{
			AlertID: current.ID,
			Council: current.Council,
			Reply:   reply,
			Status:  status,
			Roles:   []enums.Role{enums.RoleChair},
		})
	})
	if err != nil {
		return nil, err
	}

	record := ToRecord(updated)
	s.mirror(ctx, record, map[string]any{"reply": record.Reply, "status": record.Status})
	s.logg.Info(s.logg.WithAlertID(ctx, record.ID), "alert replied")
	return &record, nil
}

func (s *service) UpdateStatus(ctx context.Context, input StatusInput) (*alerts.Record, error) {
	if input.AlertID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "alert id required")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status")
	}

	var updated models.Alert
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, input.AlertID)
		if err != nil {
			return err
		}
		if statusRank(input.Status) <= statusRank(current.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "alert status can only move forward").
				WithDetails(map[string]any{"from": current.Status, "to": input.Status})
		}
		from := current.Status
		if _, err := repo.Update(ctx, current.ID, map[string]any{
			"status":     input.Status,
			"updated_at": s.now().UTC(),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update alert")
		}
		current.Status = input.Status
		updated = *current

		return s.emit(ctx, tx, enums.EventAlertStatusChanged, current.ID, input.Actor, payloads.AlertStatusChangedEvent{
			AlertID: current.ID,
			Council: current.Council,
			From:    from,
			To:      input.Status,
		})
	})
	if err != nil {
		return nil, err
	}

	record := ToRecord(updated)
	s.mirror(ctx, record, map[string]any{"status": record.Status})
	return &record, nil
}

func (s *service) ListRecent(ctx context.Context, since time.Time, limit int) ([]alerts.Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.repo.ListSince(ctx, since, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list alerts")
	}
	out := make([]alerts.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, ToRecord(row))
	}
	return out, nil
}

// Purge deletes alerts older than retention.
func (s *service) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "retention must be positive")
	}
	deleted, err := s.repo.DeleteCreatedBefore(ctx, s.now().UTC().Add(-retention))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "purge alerts")
	}
	return deleted, nil
}

func (s *service) load(ctx context.Context, repo Repository, id uuid.UUID) (*models.Alert, error) {
	row, err := repo.FindByID(ctx, id)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "alert not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load alert")
	}
	return row, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, id uuid.UUID, actor *outbox.Actor, data any) error {
	event := outbox.Event{
		EventType:     eventType,
		AggregateType: enums.AggregateAlert,
		AggregateID:   id,
		Actor:         actor,
		Version:       1,
		OccurredAt:    s.now().UTC(),
		Data:          data,
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue alert event")
	}
	return nil
}

func (s *service) mirror(ctx context.Context, record alerts.Record, partial map[string]any) {
	if s.realtime == nil {
		return
	}
	if !s.realtime.Update(ctx, realtime.Join(s.collection, record.ID), partial) {
		s.logg.Warn(s.logg.WithAlertID(ctx, record.ID), "realtime alert update failed")
	}
}

// ToRecord converts the durable row into the realtime shape.
func ToRecord(row models.Alert) alerts.Record {
	record := alerts.Record{
		ID:        row.ID.String(),
		Type:      row.Type,
		Council:   row.Council,
		Message:   row.Message,
		Timestamp: row.CreatedAt.UTC(),
		Status:    row.Status,
		Priority:  row.Priority,
	}
	if row.Reply != nil {
		record.Reply = *row.Reply
	}
	if row.TargetRole != nil {
		record.Role = row.TargetRole.String()
	}
	return record
}

func targetRoles(role *enums.Role) []enums.Role {
	if role == nil {
		return nil
	}
	return []enums.Role{*role}
}

func statusRank(status enums.AlertStatus) int {
	switch status {
	case enums.AlertStatusPending:
		return 0
	case enums.AlertStatusAcknowledged:
		return 1
	case enums.AlertStatusResolved:
		return 2
	default:
		return -1
	}
}
