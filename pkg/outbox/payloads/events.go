package payloads

import (
	"time"

	"github.com/angelmondragon/confops/pkg/enums"
	"github.com/google/uuid"
)

// AlertCreatedEvent is emitted when a new alert is raised from a council room.
type AlertCreatedEvent struct {
	AlertID   uuid.UUID           `json:"alert_id"`
	Type      string              `json:"type"`
	Council   string              `json:"council"`
	Message   string              `json:"message"`
	Priority  enums.AlertPriority `json:"priority"`
	Roles     []enums.Role        `json:"roles"`
	CreatedAt time.Time           `json:"created_at"`
}

// AlertRepliedEvent is emitted when staff answer an alert; the reply goes back to the raising council.
type AlertRepliedEvent struct {
	AlertID uuid.UUID         `json:"alert_id"`
	Council string            `json:"council"`
	Reply   string            `json:"reply"`
	Status  enums.AlertStatus `json:"status"`
	Roles   []enums.Role      `json:"roles"`
}

// AlertStatusChangedEvent records acknowledge/resolve transitions without a reply.
type AlertStatusChangedEvent struct {
	AlertID uuid.UUID         `json:"alert_id"`
	Council string            `json:"council"`
	From    enums.AlertStatus `json:"from"`
	To      enums.AlertStatus `json:"to"`
}

// TestPushRequestedEvent asks the dispatcher to push a diagnostic notification to one user's devices.
type TestPushRequestedEvent struct {
	UserID      string    `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
}
