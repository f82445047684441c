// Package health is C6: the HTTP health/readiness surface and the
// Prometheus collectors every other adapter reports into. Metrics are
// package-level vars registered in init(), the same layout the pack's
// pkg/metrics package uses, just with the outbox relay's own names.
package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_claimed_total",
			Help: "Total number of outbox rows claimed for processing.",
		},
		[]string{"consumer"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Total number of outbox events successfully published.",
		},
		[]string{"event_type", "event_domain", "exchange", "routing_key"},
	)

	EventsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_failed_total",
			Help: "Total number of claimed events whose publish failed after inner retries.",
		},
		[]string{"event_type", "event_domain", "error_type"},
	)

	EventsRetriedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_retried_total",
			Help: "Total number of publish attempts that were retried after a failure.",
		},
		[]string{"event_type", "event_domain", "attempt"},
	)

	EventsDiscardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_discarded_total",
			Help: "Total number of events discarded after exhausting retries.",
		},
		[]string{"event_type", "event_domain", "reason"},
	)

	PublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_errors_total",
			Help: "Total number of publish errors by classified type.",
		},
		[]string{"error_type", "error_code"},
	)

	EventProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outbox_event_processing_duration_seconds",
			Help:    "Time spent publishing one claimed event, including inner retries.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type", "event_domain"},
	)

	PublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outbox_publish_duration_seconds",
			Help:    "Time spent in a single publish attempt, including confirm wait.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"exchange", "routing_key"},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_batch_processing_duration_seconds",
			Help:    "Time spent processing one claimed batch end to end.",
			Buckets: prometheus.DefBuckets,
		},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_batch_size",
			Help:    "Number of events claimed per batch.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200, 500},
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outbox_queue_depth",
			Help: "Number of outbox rows in each status, as of the last cycle's stats poll.",
		},
		[]string{"status"},
	)

	OldestPendingAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending row, as of the last cycle's stats poll.",
		},
	)

	BrokerConnectionStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_broker_connection_status",
			Help: "Whether the broker connection is currently reachable: 1=up, 0=down.",
		},
	)

	DBConnectionStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_db_connection_status",
			Help: "Whether the outbox store is currently reachable: 1=up, 0=down.",
		},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outbox_circuit_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=open, 2=half_open.",
		},
		[]string{"component"},
	)

	CircuitBreakerTripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_circuit_breaker_trips_total",
			Help: "Total number of circuit breaker state transitions.",
		},
		[]string{"component", "from", "to"},
	)

	ReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_broker_reconnects_total",
			Help: "Total number of broker reconnect attempts, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsClaimedTotal,
		EventsPublishedTotal,
		EventsFailedTotal,
		EventsRetriedTotal,
		EventsDiscardedTotal,
		PublishErrorsTotal,
		EventProcessingDuration,
		PublishDuration,
		BatchDuration,
		BatchSize,
		QueueDepth,
		OldestPendingAgeSeconds,
		BrokerConnectionStatus,
		DBConnectionStatus,
		CircuitBreakerState,
		CircuitBreakerTripsTotal,
		ReconnectsTotal,
	)
}

// Timer times an operation and records it to a histogram on ObserveDuration.
type Timer struct{ start time.Time }

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(time.Since(t.start).Seconds())
}
