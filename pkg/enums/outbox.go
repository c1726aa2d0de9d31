package enums

// OutboxAggregateType maps to aggregate_type_enum.
type OutboxAggregateType string

const (
	AggregateAlert       OutboxAggregateType = "alert"
	AggregateDeviceToken OutboxAggregateType = "device_token"
)

var aggregateTypes = newSet("aggregate type", AggregateAlert, AggregateDeviceToken)

func (a OutboxAggregateType) IsValid() bool { return aggregateTypes.has(a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return aggregateTypes.parse(value)
}

// OutboxEventType maps to event_type_enum and doubles as the Pub/Sub
// event_type attribute.
type OutboxEventType string

const (
	EventAlertCreated       OutboxEventType = "alert_created"
	EventAlertReplied       OutboxEventType = "alert_replied"
	EventAlertStatusChanged OutboxEventType = "alert_status_changed"
	EventTestPushRequested  OutboxEventType = "test_push_requested"
)

var eventTypes = newSet("event type",
	EventAlertCreated,
	EventAlertReplied,
	EventAlertStatusChanged,
	EventTestPushRequested,
)

func (e OutboxEventType) IsValid() bool { return eventTypes.has(e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return eventTypes.parse(value)
}

// OutboxDLQErrorReason explains why the relay parked a row.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts means Pub/Sub kept failing until the attempt ceiling.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable means the row can never be published as stored.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var dlqReasons = newSet("dead letter reason", OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable)

func (r OutboxDLQErrorReason) IsValid() bool { return dlqReasons.has(r) }
