package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Row results counted per scheduled job.
const (
	RowsProcessed = "processed"
	RowsFulfilled = "fulfilled"
	RowsFailed    = "failed"
)

// CronJobMetrics exports scheduled dispatch cycles: job runs by outcome, the
// ledger rows each job touched and cycles skipped because another worker held
// the lock.
type CronJobMetrics struct {
	runs     *prometheus.CounterVec
	rows     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	skipped  prometheus.Counter
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invites_cron_job_runs_total",
			Help: "Scheduled job runs by outcome (completed, partial, idle, failed).",
		}, []string{"job", "outcome"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invites_cron_job_rows_total",
			Help: "Ledger rows handled by scheduled jobs, by result.",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "invites_cron_job_duration_seconds",
			Help:    "Duration of scheduled job runs in seconds.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"job"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "invites_cron_cycles_locked_total",
			Help: "Cycles skipped because another worker held the dispatch lock.",
		}),
	}
	reg.MustRegister(m.runs, m.rows, m.duration, m.skipped)
	return m
}

// Prime creates the zero-valued series for each job so dashboards see them
// before the first run.
func (c *CronJobMetrics) Prime(jobs []string, outcomes []string) {
	if c == nil || c.runs == nil {
		return
	}
	for _, job := range jobs {
		for _, outcome := range outcomes {
			c.runs.WithLabelValues(label(job), outcome)
		}
		for _, result := range []string{RowsProcessed, RowsFulfilled, RowsFailed} {
			c.rows.WithLabelValues(label(job), result)
		}
	}
}

// ObserveRun records one finished job run.
func (c *CronJobMetrics) ObserveRun(job, outcome string, duration time.Duration) {
	if c == nil || c.runs == nil {
		return
	}
	c.runs.WithLabelValues(label(job), label(outcome)).Inc()
	c.duration.WithLabelValues(label(job)).Observe(duration.Seconds())
}

// AddRows adds the row counts of one job run.
func (c *CronJobMetrics) AddRows(job string, processed, fulfilled, failed int) {
	if c == nil || c.rows == nil {
		return
	}
	c.rows.WithLabelValues(label(job), RowsProcessed).Add(float64(processed))
	c.rows.WithLabelValues(label(job), RowsFulfilled).Add(float64(fulfilled))
	c.rows.WithLabelValues(label(job), RowsFailed).Add(float64(failed))
}

func (c *CronJobMetrics) IncLocked() {
	if c == nil || c.skipped == nil {
		return
	}
	c.skipped.Inc()
}

func label(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
