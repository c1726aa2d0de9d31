package catalog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/db/models"
	"github.com/angelmondragon/confops/pkg/enums"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/outbox"
	"github.com/angelmondragon/confops/pkg/outbox/payloads"
)

func envelopeBytes(t *testing.T, version int, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	out, err := json.Marshal(outbox.Envelope{Version: version, EventID: uuid.NewString(), OccurredAt: time.Now(), Data: raw})
	require.NoError(t, err)
	return out
}

func TestRouteDecodesKnownRow(t *testing.T) {
	c, err := New(config.PubSubConfig{AlertsTopic: " alerts "})
	require.NoError(t, err)
	assert.Equal(t, []string{"alerts"}, c.Topics())

	alertID := uuid.New()
	route, err := c.Route(models.OutboxEvent{
		EventType:     enums.EventAlertCreated,
		AggregateType: enums.AggregateAlert,
		AggregateID:   alertID,
		Payload: envelopeBytes(t, 1, payloads.AlertCreatedEvent{
			AlertID:  alertID,
			Council:  "UNSC",
			Message:  "Need water",
			Priority: enums.AlertPriorityUrgent,
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, "alerts", route.Topic)
	payload, ok := route.Payload.(payloads.AlertCreatedEvent)
	require.True(t, ok, "payload is %T", route.Payload)
	assert.Equal(t, enums.AlertPriorityUrgent, payload.Priority)
	assert.NotEmpty(t, route.Envelope.EventID)
}

func TestRouteRejectsUnpublishableRows(t *testing.T) {
	c, err := New(config.PubSubConfig{AlertsTopic: "alerts"})
	require.NoError(t, err)
	good := envelopeBytes(t, 1, payloads.TestPushRequestedEvent{UserID: "u-1"})

	cases := map[string]models.OutboxEvent{
		"unknown type":       {EventType: "order_created", AggregateType: enums.AggregateAlert, AggregateID: uuid.New(), Payload: good},
		"aggregate mismatch": {EventType: enums.EventTestPushRequested, AggregateType: enums.AggregateAlert, AggregateID: uuid.New(), Payload: good},
		"nil aggregate id":   {EventType: enums.EventTestPushRequested, AggregateType: enums.AggregateDeviceToken, Payload: good},
		"future version":     {EventType: enums.EventTestPushRequested, AggregateType: enums.AggregateDeviceToken, AggregateID: uuid.New(), Payload: envelopeBytes(t, 7, map[string]string{})},
		"bad data":           {EventType: enums.EventTestPushRequested, AggregateType: enums.AggregateDeviceToken, AggregateID: uuid.New(), Payload: envelopeBytes(t, 1, []int{1})},
		"bad envelope":       {EventType: enums.EventTestPushRequested, AggregateType: enums.AggregateDeviceToken, AggregateID: uuid.New(), Payload: []byte(`nope`)},
	}
	for name, row := range cases {
		_, err := c.Route(row)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), name)
	}
}

func TestDecodeTreatsMissingVersionAsFirst(t *testing.T) {
	payload, err := Decode(enums.EventAlertStatusChanged, outbox.Envelope{
		Data: json.RawMessage(`{"from":"pending","to":"resolved"}`),
	})
	require.NoError(t, err)
	changed := payload.(payloads.AlertStatusChangedEvent)
	assert.Equal(t, enums.AlertStatusResolved, changed.To)
}

func TestNewRequiresTopic(t *testing.T) {
	_, err := New(config.PubSubConfig{})
	assert.Error(t, err)
}
