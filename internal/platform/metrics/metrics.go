package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for contribution attempts.
const (
	OutcomeAccepted   = "accepted"
	OutcomeCapped     = "capped"
	OutcomeRejected   = "capacity_exceeded"
	OutcomeContention = "contention"
	OutcomeNotFound   = "not_found"
	OutcomeDenied     = "unauthorized"
	OutcomeIntegrity  = "integrity_violation"
	OutcomeError      = "error"
)

// Metrics holds the Prometheus collectors for the ledger and notification pipeline.
// All methods are safe on a nil receiver so tests can skip registration.
type Metrics struct {
	Contributions        *prometheus.CounterVec
	Retractions          *prometheus.CounterVec
	LockWait             prometheus.Histogram
	ContentionRetries    prometheus.Counter
	EventsEnqueued       *prometheus.CounterVec
	EventsEnqueueFailed  *prometheus.CounterVec
	NotificationsStored  *prometheus.CounterVec
	NotificationsDropped *prometheus.CounterVec
	ConsumeLatency       prometheus.Histogram
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Contributions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reliefhub_contributions_total",
			Help: "Contribution attempts by outcome",
		}, []string{"outcome"}),
		Retractions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reliefhub_retractions_total",
			Help: "Contribution retractions by outcome",
		}, []string{"outcome"}),
		LockWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "reliefhub_request_lock_wait_seconds",
			Help:    "Time spent waiting for exclusive access to a request",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 5},
		}),
		ContentionRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "reliefhub_request_lock_retries_total",
			Help: "Lock acquisitions retried after a lock timeout",
		}),
		EventsEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reliefhub_notification_events_enqueued_total",
			Help: "Notification events handed to the channel",
		}, []string{"type"}),
		EventsEnqueueFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reliefhub_notification_events_enqueue_failed_total",
			Help: "Notification events the channel refused",
		}, []string{"type"}),
		NotificationsStored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reliefhub_notifications_materialized_total",
			Help: "Notification records persisted by the materializer",
		}, []string{"type"}),
		NotificationsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reliefhub_notifications_dropped_total",
			Help: "Events discarded by the materializer",
		}, []string{"reason"}),
		ConsumeLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "reliefhub_notification_consume_latency_seconds",
			Help:    "Delay between event creation and materialization",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObserveContribution(outcome string) {
	if m == nil {
		return
	}
	m.Contributions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRetraction(outcome string) {
	if m == nil {
		return
	}
	m.Retractions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.Observe(d.Seconds())
}

func (m *Metrics) IncrementContentionRetries() {
	if m == nil {
		return
	}
	m.ContentionRetries.Inc()
}

func (m *Metrics) IncrementEnqueued(eventType string) {
	if m == nil {
		return
	}
	m.EventsEnqueued.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncrementEnqueueFailed(eventType string) {
	if m == nil {
		return
	}
	m.EventsEnqueueFailed.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncrementMaterialized(eventType string) {
	if m == nil {
		return
	}
	m.NotificationsStored.WithLabelValues(eventType).Inc()
}

// IncrementDropped records a discarded event. reason is one of
// "recipient_unresolved" or "malformed".
func (m *Metrics) IncrementDropped(reason string) {
	if m == nil {
		return
	}
	m.NotificationsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveConsumeLatency(createdAt, now time.Time) {
	if m == nil || createdAt.IsZero() {
		return
	}
	m.ConsumeLatency.Observe(now.Sub(createdAt).Seconds())
}
