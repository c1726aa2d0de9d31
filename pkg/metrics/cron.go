package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cron run outcomes.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunSkipped   = "skipped"
)

// CronJobMetrics tracks the maintenance jobs. A nil value records nothing.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return nil
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "confops_cron_job_runs_total",
			Help: "Maintenance job runs by outcome; skipped means another replica held the lock.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "confops_cron_job_duration_seconds",
			Help:    "Wall time of maintenance job runs.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "confops_cron_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess)
	return m
}

// ObserveRun records one finished run of job.
func (m *CronJobMetrics) ObserveRun(job string, elapsed time.Duration, ok bool, at time.Time) {
	if m == nil {
		return
	}
	job = jobLabel(job)
	m.duration.WithLabelValues(job).Observe(elapsed.Seconds())
	if !ok {
		m.runs.WithLabelValues(job, RunFailed).Inc()
		return
	}
	m.runs.WithLabelValues(job, RunSucceeded).Inc()
	m.lastSuccess.WithLabelValues(job).Set(float64(at.Unix()))
}

// IncSkipped counts a due run left to another replica.
func (m *CronJobMetrics) IncSkipped(job string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(jobLabel(job), RunSkipped).Inc()
}

func jobLabel(job string) string {
	if job == "" {
		return "unknown"
	}
	return job
}
