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

	// CompletionsActive tracks completion requests currently processing.
	CompletionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "completions_active",
			Help: "Completion requests currently in the processing state",
		},
	)

	// CompletionsTotal tracks finished completion requests by outcome.
	CompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "completions_total",
			Help: "Finished completion requests by outcome",
		},
		[]string{"outcome"},
	)

	// CompletionEventsDropped tracks events that arrived for an unknown or
	// already terminal request.
	CompletionEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "completion_events_dropped_total",
			Help: "Engine events dropped on registry lookup",
		},
	)

	// CompletionTextEvents tracks emitted text increments.
	CompletionTextEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "completion_text_events_total",
			Help: "Text increments emitted to consumers",
		},
	)

	// CompletionDuration tracks wall time from submit to terminal state.
	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "completion_duration_seconds",
			Help:    "Completion duration from submit to terminal event",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	// RenderFallbacks tracks completions that degraded to the raw last user
	// turn after a render failure.
	RenderFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "render_fallbacks_total",
			Help: "Completions degraded to an unrendered prompt",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// PublishFailures tracks failed event publishes to the stream broker.
	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "publish_failures_total",
			Help: "Failed JetStream publishes",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordCompletion records a finished completion request.
func RecordCompletion(outcome string, duration float64) {
	CompletionDuration.WithLabelValues(outcome).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
