package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetalert_events_queued_total",
			Help: "Alert events appended to hourly buckets",
		},
		[]string{"kind"},
	)

	BatchesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetalert_batches_dispatched_total",
			Help: "Batches handed to a transport, by outcome",
		},
		[]string{"transport", "status"},
	)

	RecipientsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetalert_recipients_total",
			Help: "Per-recipient delivery outcomes",
		},
		[]string{"transport", "status"},
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetalert_alerts_suppressed_total",
			Help: "Disconnection alerts suppressed by incident dedup",
		},
	)

	PendingWindows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetalert_pending_windows",
			Help: "Hour windows currently holding queued events",
		},
	)

	DrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetalert_drain_duration_seconds",
			Help:    "Time spent draining and dispatching pending windows",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Recorder keeps the last-error and last-success snapshot surfaced by the
// engine's status endpoint, alongside the Prometheus series above.
type Recorder struct {
	mu          sync.Mutex
	lastError   string
	lastErrorAt time.Time
	lastSuccess time.Time
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordError notes a failure for the status snapshot.
func (r *Recorder) RecordError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.lastError = err.Error()
	r.lastErrorAt = time.Now().UTC()
	r.mu.Unlock()
}

// RecordSuccess notes a completed dispatch for the status snapshot.
func (r *Recorder) RecordSuccess(at time.Time) {
	r.mu.Lock()
	r.lastSuccess = at.UTC()
	r.mu.Unlock()
}

// Snapshot returns the last error text, when it happened, and the last
// successful dispatch time.
func (r *Recorder) Snapshot() (lastError string, lastErrorAt, lastSuccess time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError, r.lastErrorAt, r.lastSuccess
}
