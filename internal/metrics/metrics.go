// Package metrics exposes Prometheus collectors for selection runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chunk statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
	StatusRetry  = "retry"
)

// #region metrics
// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	chunks   *prometheus.CounterVec
	events   *prometheus.CounterVec
	duration prometheus.Histogram
	merges   prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		chunks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stau_chunks_total",
			Help: "Processed chunks by dataset and status",
		}, []string{"dataset", "status"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stau_events_total",
			Help: "Events entering and leaving the selection",
		}, []string{"dataset", "stage"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stau_chunk_duration_seconds",
			Help:    "Wall time of one chunk attempt",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		merges: f.NewCounter(prometheus.CounterOpts{
			Name: "stau_merge_total",
			Help: "Chunk results merged into dataset results",
		}),
	}
}

// #endregion metrics

// #region record
// Chunk records one chunk attempt.
func (m *Metrics) Chunk(dataset, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(dataset, status).Inc()
	m.duration.Observe(took.Seconds())
}

// Events adds the event counts of a completed chunk.
func (m *Metrics) Events(dataset string, in, out int) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(dataset, "in").Add(float64(in))
	m.events.WithLabelValues(dataset, "out").Add(float64(out))
}

// Merged counts one merge into a dataset result.
func (m *Metrics) Merged() {
	if m == nil {
		return
	}
	m.merges.Inc()
}

// #endregion record
