package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/confops/pkg/db/models"
	"github.com/angelmondragon/confops/pkg/enums"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
)

// Event is what a domain service hands the emitter. Data is marshalled into
// the envelope's data field.
type Event struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *Actor
	Data          any
	Version       int
	OccurredAt    time.Time
}

type rowWriter interface {
	Insert(tx *gorm.DB, row models.OutboxEvent) error
}

// Emitter writes events into outbox_events inside the caller's transaction,
// so an event exists exactly when the state change that produced it commits.
type Emitter struct {
	rows  rowWriter
	logg  *logger.Logger
	now   func() time.Time
	newID func() string
}

func NewEmitter(rows rowWriter, logg *logger.Logger) *Emitter {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Emitter{rows: rows, logg: logg, now: time.Now, newID: uuid.NewString}
}

func (e *Emitter) Emit(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "outbox emit needs a transaction")
	}
	if !event.EventType.IsValid() || !event.AggregateType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeInternal, "outbox event type or aggregate not registered").
			WithDetails(map[string]any{"event_type": event.EventType, "aggregate_type": event.AggregateType})
	}
	env, raw, err := e.seal(event)
	if err != nil {
		return err
	}
	row := models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       raw,
	}
	if err := e.rows.Insert(tx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert outbox event")
	}
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"event_id":       env.EventID,
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
	}), "outbox event queued")
	return nil
}

func (e *Emitter) seal(event Event) (Envelope, json.RawMessage, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return Envelope{}, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode event data")
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = e.now()
	}
	version := event.Version
	if version <= 0 {
		version = CurrentVersion
	}
	env := Envelope{
		Version:    version,
		EventID:    e.newID(),
		OccurredAt: occurred.UTC(),
		Actor:      event.Actor,
		Data:       data,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode envelope")
	}
	return env, raw, nil
}
