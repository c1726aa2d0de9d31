package metrics

import "github.com/prometheus/client_golang/prometheus"

// Delivery channels.
const (
	ChannelNative   = "native"
	ChannelToast    = "toast"
	ChannelDeferred = "deferred"
	ChannelPush     = "push"
)

// Delivery outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// NotificationMetrics tracks how notifications reach users.
type NotificationMetrics struct {
	deliveries   *prometheus.CounterVec
	resubscribes *prometheus.CounterVec
	tokensPruned prometheus.Counter
}

// NewNotificationMetrics registers the notification metrics on reg. A nil reg
// yields a no-op recorder.
func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	if reg == nil {
		return &NotificationMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "confops_notification_deliveries_total",
		Help: "Notification delivery attempts by channel and outcome.",
	}, []string{"channel", "outcome"})
	resubscribes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "confops_realtime_resubscribes_total",
		Help: "Realtime subscriptions re-established after a silent drop.",
	}, []string{"collection"})
	tokensPruned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "confops_device_tokens_pruned_total",
		Help: "Device tokens removed after the push transport rejected them.",
	})
	reg.MustRegister(deliveries, resubscribes, tokensPruned)
	return &NotificationMetrics{
		deliveries:   deliveries,
		resubscribes: resubscribes,
		tokensPruned: tokensPruned,
	}
}

// AddDeliveries counts n deliveries on channel with outcome.
func (m *NotificationMetrics) AddDeliveries(channel, outcome string, n int) {
	if m == nil || m.deliveries == nil || n <= 0 {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(channel), normalizeLabel(outcome)).Add(float64(n))
}

// IncDelivery counts a single delivery.
func (m *NotificationMetrics) IncDelivery(channel, outcome string) {
	m.AddDeliveries(channel, outcome, 1)
}

// IncResubscribe counts a liveness-driven resubscription.
func (m *NotificationMetrics) IncResubscribe(collection string) {
	if m == nil || m.resubscribes == nil {
		return
	}
	m.resubscribes.WithLabelValues(normalizeLabel(collection)).Inc()
}

// AddTokensPruned counts rejected tokens removed from the registry.
func (m *NotificationMetrics) AddTokensPruned(n int) {
	if m == nil || m.tokensPruned == nil || n <= 0 {
		return
	}
	m.tokensPruned.Add(float64(n))
}
