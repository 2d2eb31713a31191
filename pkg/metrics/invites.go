package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// InviteMetrics counts ingest outcomes and per-row dispatch results.
type InviteMetrics struct {
	ingest   *prometheus.CounterVec
	dispatch *prometheus.CounterVec
	batch    prometheus.Histogram
}

// NewInviteMetrics registers the invite metrics on reg. A nil registerer yields
// a no-op recorder.
func NewInviteMetrics(reg prometheus.Registerer) *InviteMetrics {
	if reg == nil {
		return &InviteMetrics{}
	}
	ingest := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invite_ingest_total",
		Help: "Purchase events handled by the ingestor, by outcome.",
	}, []string{"outcome"})
	dispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invite_dispatch_rows_total",
		Help: "Ledger rows processed by the dispatch worker, by status.",
	}, []string{"status"})
	batch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "invite_dispatch_batch_duration_seconds",
		Help:    "Duration of dispatch batches in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(ingest, dispatch, batch)
	return &InviteMetrics{ingest: ingest, dispatch: dispatch, batch: batch}
}

func (m *InviteMetrics) IncIngest(outcome string) {
	if m == nil || m.ingest == nil {
		return
	}
	m.ingest.WithLabelValues(label(outcome)).Inc()
}

func (m *InviteMetrics) IncDispatch(status string) {
	if m == nil || m.dispatch == nil {
		return
	}
	m.dispatch.WithLabelValues(label(status)).Inc()
}

func (m *InviteMetrics) ObserveBatch(duration time.Duration) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Observe(duration.Seconds())
}
