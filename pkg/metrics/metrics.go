// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WSConnectionsActive tracks active websocket connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of active websocket connections",
		},
	)

	// MessagesRouted tracks chat messages accepted by the router.
	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_routed_total",
			Help: "Chat messages accepted and routed",
		},
		[]string{"sender_type"},
	)

	// MessagesInvalid tracks inbound events dropped by validation.
	MessagesInvalid = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_invalid_total",
			Help: "Inbound events dropped as malformed",
		},
	)

	// LiveDeliveries tracks synchronous deliveries to connected recipients.
	LiveDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_live_deliveries_total",
			Help: "Messages delivered to a connected recipient",
		},
		[]string{"outcome"},
	)

	// QueuePublishFailures tracks failed queue publishes. Publishes have no
	// retry path, so this counter is the durability alarm.
	QueuePublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_publish_failures_total",
			Help: "Failed durable queue publishes",
		},
	)

	// ConsumerBufferSize tracks the batch consumer's in-memory buffer depth.
	ConsumerBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "consumer_buffer_records",
			Help: "Records buffered by the batch persistence consumer",
		},
	)

	// FlushDuration tracks bulk-write flush duration by outcome.
	FlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consumer_flush_duration_seconds",
			Help:    "Bulk write flush duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	// FlushedRecords tracks records durably written per flush outcome.
	FlushedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_flushed_records_total",
			Help: "Records flushed to the relational store",
		},
		[]string{"outcome"},
	)

	// CommittedOffset tracks the last committed offset per partition.
	CommittedOffset = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "consumer_committed_offset",
			Help: "Last committed queue offset",
		},
		[]string{"partition"},
	)

	// SubscriptionPauses tracks backpressure pause/resume transitions.
	SubscriptionPauses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_subscription_transitions_total",
			Help: "Subscription pause/resume transitions",
		},
		[]string{"transition"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// IncrementWSConnections increments the active websocket connection count.
func IncrementWSConnections() {
	WSConnectionsActive.Inc()
}

// DecrementWSConnections decrements the active websocket connection count.
func DecrementWSConnections() {
	WSConnectionsActive.Dec()
}
