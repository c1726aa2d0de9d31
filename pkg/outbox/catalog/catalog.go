// Package catalog lists every outbox event type, the aggregate it belongs
// to, the topic it is published on, and how each payload version decodes.
// The relay routes rows with it and the push dispatcher decodes deliveries
// with it, so both sides agree on the wire format.
package catalog

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/db/models"
	"github.com/angelmondragon/confops/pkg/enums"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/outbox"
	"github.com/angelmondragon/confops/pkg/outbox/payloads"
)

type decoder func(json.RawMessage) (any, error)

type entry struct {
	aggregate enums.OutboxAggregateType
	versions  map[int]decoder
}

var entries = map[enums.OutboxEventType]entry{
	enums.EventAlertCreated: {
		aggregate: enums.AggregateAlert,
		versions:  map[int]decoder{1: decodeAs[payloads.AlertCreatedEvent]},
	},
	enums.EventAlertReplied: {
		aggregate: enums.AggregateAlert,
		versions:  map[int]decoder{1: decodeAs[payloads.AlertRepliedEvent]},
	},
	enums.EventAlertStatusChanged: {
		aggregate: enums.AggregateAlert,
		versions:  map[int]decoder{1: decodeAs[payloads.AlertStatusChangedEvent]},
	},
	enums.EventTestPushRequested: {
		aggregate: enums.AggregateDeviceToken,
		versions:  map[int]decoder{1: decodeAs[payloads.TestPushRequestedEvent]},
	},
}

func decodeAs[T any](raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Decode returns the payload carried by env as a value type from package
// payloads. Unknown types, unknown versions and malformed data are all
// validation errors.
func Decode(eventType enums.OutboxEventType, env outbox.Envelope) (any, error) {
	e, ok := entries[eventType]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown event type").
			WithDetails(map[string]any{"event_type": eventType})
	}
	dec, ok := e.versions[env.SchemaVersion()]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payload version").
			WithDetails(map[string]any{"event_type": eventType, "version": env.SchemaVersion()})
	}
	payload, err := dec(env.Data)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode "+string(eventType)+" payload")
	}
	return payload, nil
}

// Route is where one stored row is published.
type Route struct {
	Topic    string
	Envelope outbox.Envelope
	Payload  any
}

// Catalog binds event types to configured topic names.
type Catalog struct {
	topics map[enums.OutboxEventType]string
}

// New routes every event type to the alerts topic; it is the only topic the
// push dispatcher subscribes to.
func New(cfg config.PubSubConfig) (*Catalog, error) {
	topic := strings.TrimSpace(cfg.AlertsTopic)
	if topic == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "alerts topic is required")
	}
	c := &Catalog{topics: make(map[enums.OutboxEventType]string, len(entries))}
	for eventType := range entries {
		c.topics[eventType] = topic
	}
	return c, nil
}

// Topics returns the distinct topic names, sorted.
func (c *Catalog) Topics() []string {
	out := make([]string, 0, 1)
	for _, topic := range c.topics {
		if !slices.Contains(out, topic) {
			out = append(out, topic)
		}
	}
	slices.Sort(out)
	return out
}

// Route checks a stored row against the catalog and decodes it. A row that
// fails here can never be published and should be dead-lettered.
func (c *Catalog) Route(row models.OutboxEvent) (Route, error) {
	topic, ok := c.topics[row.EventType]
	if !ok {
		return Route{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown event type").
			WithDetails(map[string]any{"event_type": row.EventType})
	}
	if want := entries[row.EventType].aggregate; want != row.AggregateType {
		return Route{}, pkgerrors.New(pkgerrors.CodeValidation, "aggregate type mismatch").
			WithDetails(map[string]any{"want": want, "got": row.AggregateType})
	}
	if row.AggregateID == uuid.Nil {
		return Route{}, pkgerrors.New(pkgerrors.CodeValidation, "missing aggregate id")
	}
	env, err := outbox.Open(row.Payload)
	if err != nil {
		return Route{}, err
	}
	payload, err := Decode(row.EventType, env)
	if err != nil {
		return Route{}, err
	}
	return Route{Topic: topic, Envelope: env, Payload: payload}, nil
}
