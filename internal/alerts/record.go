package alerts

import (
	"time"

	"github.com/angelmondragon/confops/pkg/enums"
)

// Record is an alert as stored in the realtime collection. ID is the
// de-duplication key and Timestamp the recency gate.
type Record struct {
	ID        string              `json:"id"`
	Type      string              `json:"type"`
	Council   string              `json:"council"`
	Message   string              `json:"message"`
	Timestamp time.Time           `json:"timestamp"`
	Status    enums.AlertStatus   `json:"status"`
	Priority  enums.AlertPriority `json:"priority"`
	Reply     string              `json:"reply,omitempty"`
	// Role targets the alert at one dashboard role; empty means everyone.
	Role string `json:"role,omitempty"`
}

// Urgent reports whether the record needs require-interaction rendering.
func (r Record) Urgent() bool {
	return r.Priority == enums.AlertPriorityUrgent
}

// Title is the notification headline for the record.
func (r Record) Title() string {
	prefix := "Alert"
	if r.Urgent() {
		prefix = "Urgent alert"
	}
	if r.Council != "" {
		return prefix + " from " + r.Council
	}
	return prefix
}
