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

	// LiveConnections tracks active websocket connections.
	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of active websocket connections",
		},
	)

	// RelaysTotal tracks live relay attempts by outcome.
	RelaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relays_total",
			Help: "Live message relay attempts",
		},
		[]string{"outcome"}, // delivered | miss
	)

	// MessagesTotal tracks persisted messages.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages persisted",
		},
		[]string{"role", "kind"},
	)

	// ReadReceiptsTotal tracks propagated read receipts.
	ReadReceiptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "read_receipts_total",
			Help: "Total read-receipt notifications emitted",
		},
	)

	// UnauthorizedJoinsTotal tracks rejected channel join attempts.
	UnauthorizedJoinsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "unauthorized_channel_joins_total",
			Help: "Channel join attempts with a mismatched identity",
		},
	)

	// AssistantDuration tracks assistant completion duration.
	AssistantDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_completion_duration_seconds",
			Help:    "Assistant completion duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"provider", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRelay records a live relay attempt.
func RecordRelay(delivered bool) {
	if delivered {
		RelaysTotal.WithLabelValues("delivered").Inc()
	} else {
		RelaysTotal.WithLabelValues("miss").Inc()
	}
}

// RecordMessage records a persisted message.
func RecordMessage(role, kind string) {
	MessagesTotal.WithLabelValues(role, kind).Inc()
}
