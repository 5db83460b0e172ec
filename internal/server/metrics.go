// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// labelHandler is the label used to partition metrics by the logical endpoint
// name rather than the raw URL path.
const labelHandler = "handler"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// askRequestsTotal counts completed /api/ask requests, partitioned by
	// outcome: "ok" or "error".
	askRequestsTotal *prometheus.CounterVec

	// askDurationSeconds records the wall-clock duration of each /api/ask
	// request from receipt to answer completion.
	askDurationSeconds *prometheus.HistogramVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		askRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jiraiya",
			Subsystem: "ask",
			Name:      "requests_total",
			Help:      "Total number of /api/ask requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		askDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jiraiya",
			Subsystem: "ask",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/ask requests from receipt to answer completion.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jiraiya",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jiraiya",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}
