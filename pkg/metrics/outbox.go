package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox relay outcomes per row.
const (
	RelayPublished    = "published"
	RelayRetried      = "retried"
	RelayDeadLettered = "dead_lettered"
)

// RelayMetrics tracks the outbox relay. A nil value records nothing.
type RelayMetrics struct {
	rows    *prometheus.CounterVec
	lag     prometheus.Histogram
	batches *prometheus.CounterVec
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		return nil
	}
	m := &RelayMetrics{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "confops_outbox_rows_total",
			Help: "Outbox rows handled by the relay by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "confops_outbox_publish_lag_seconds",
			Help:    "Time from event occurrence to Pub/Sub acceptance.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 15, 60, 300},
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "confops_outbox_batches_total",
			Help: "Relay batch transactions by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.rows, m.lag, m.batches)
	return m
}

// ObserveRow counts one row outcome. lag is only recorded for published rows.
func (m *RelayMetrics) ObserveRow(eventType, outcome string, lag time.Duration) {
	if m == nil {
		return
	}
	m.rows.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
	if outcome == RelayPublished && lag > 0 {
		m.lag.Observe(lag.Seconds())
	}
}

// ObserveBatch counts a committed or rolled-back batch transaction.
func (m *RelayMetrics) ObserveBatch(err error) {
	if m == nil {
		return
	}
	result := "committed"
	if err != nil {
		result = "failed"
	}
	m.batches.WithLabelValues(result).Inc()
}
