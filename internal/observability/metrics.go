package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects bridge-level Prometheus metrics.
//
// Tracked:
//   - Inbound event flow (received, deduplicated, dropped as stale)
//   - Card operations (creates, patches) and their failures
//   - Fallback deliveries by kind (card, text)
//   - Connection lifecycle (starts, teardowns)
type Metrics struct {
	// EventsReceived counts inbound events by type.
	// Labels: event_type (message|read|membership|other)
	EventsReceived *prometheus.CounterVec

	// EventsDeduplicated counts inbound messages dropped as duplicates.
	EventsDeduplicated prometheus.Counter

	// EventsStaleDropped counts events dropped by the session-generation guard.
	EventsStaleDropped prometheus.Counter

	// CardOperations counts outbound card calls.
	// Labels: operation (create|patch|final), status (success|error)
	CardOperations *prometheus.CounterVec

	// FallbackDeliveries counts fallback sends.
	// Labels: kind (card|text)
	FallbackDeliveries *prometheus.CounterVec

	// PatchLatency measures card patch round-trip time in seconds.
	// Buckets: 0.05s to 10s
	PatchLatency prometheus.Histogram

	// ConnectionStarts counts realtime connection attempts.
	ConnectionStarts prometheus.Counter

	// ConnectionTeardowns counts force-terminations of prior connections.
	ConnectionTeardowns prometheus.Counter

	// ActiveReplies is a gauge of in-flight reply render states.
	ActiveReplies prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call once at startup; metrics are served via promhttp.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardbridge_events_received_total",
				Help: "Total number of inbound realtime events by type",
			},
			[]string{"event_type"},
		),

		EventsDeduplicated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cardbridge_events_deduplicated_total",
				Help: "Total number of inbound messages dropped as duplicates",
			},
		),

		EventsStaleDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cardbridge_events_stale_dropped_total",
				Help: "Total number of events dropped by the session-generation guard",
			},
		),

		CardOperations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardbridge_card_operations_total",
				Help: "Total number of outbound card operations by operation and status",
			},
			[]string{"operation", "status"},
		),

		FallbackDeliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardbridge_fallback_deliveries_total",
				Help: "Total number of fallback deliveries by kind",
			},
			[]string{"kind"},
		),

		PatchLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cardbridge_patch_latency_seconds",
				Help:    "Card patch round-trip latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),

		ConnectionStarts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cardbridge_connection_starts_total",
				Help: "Total number of realtime connection attempts",
			},
		),

		ConnectionTeardowns: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cardbridge_connection_teardowns_total",
				Help: "Total number of force-terminated prior connections",
			},
		),

		ActiveReplies: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cardbridge_active_replies",
				Help: "Number of reply render states currently in flight",
			},
		),
	}
}
