package outbox

import (
	"bytes"
	"encoding/json"
	"time"

	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
)

// CurrentVersion is stamped on events emitted without an explicit schema version.
const CurrentVersion = 1

// Actor identifies who produced the event.
type Actor struct {
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
}

// Envelope is the JSON document stored in outbox_events.payload and sent
// verbatim as the Pub/Sub message body.
type Envelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *Actor          `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// SchemaVersion reads an unset version as the first schema.
func (e Envelope) SchemaVersion() int {
	if e.Version <= 0 {
		return CurrentVersion
	}
	return e.Version
}

// Open decodes an envelope and rejects ones without an event id or data.
// Every failure is a validation error: retrying the same bytes cannot help.
func Open(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode envelope")
	}
	if env.EventID == "" {
		return Envelope{}, pkgerrors.New(pkgerrors.CodeValidation, "envelope missing event id")
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Envelope{}, pkgerrors.New(pkgerrors.CodeValidation, "envelope missing data")
	}
	return env, nil
}
