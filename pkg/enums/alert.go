package enums

// AlertStatus maps to alert_status_enum. Alerts only move forward:
// pending, then acknowledged, then resolved.
type AlertStatus string

const (
	AlertStatusPending      AlertStatus = "pending"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

var alertStatuses = newSet("alert status",
	AlertStatusPending,
	AlertStatusAcknowledged,
	AlertStatusResolved,
)

func (s AlertStatus) String() string { return string(s) }

func (s AlertStatus) IsValid() bool { return alertStatuses.has(s) }

func ParseAlertStatus(value string) (AlertStatus, error) {
	return alertStatuses.parse(value)
}

// AlertPriority maps to alert_priority_enum.
type AlertPriority string

const (
	AlertPriorityNormal AlertPriority = "normal"
	AlertPriorityUrgent AlertPriority = "urgent"
)

var alertPriorities = newSet("alert priority", AlertPriorityNormal, AlertPriorityUrgent)

func (p AlertPriority) String() string { return string(p) }

func (p AlertPriority) IsValid() bool { return alertPriorities.has(p) }

func ParseAlertPriority(value string) (AlertPriority, error) {
	return alertPriorities.parse(value)
}
