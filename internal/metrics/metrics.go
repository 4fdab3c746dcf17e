package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	RequestCounter    *prometheus.CounterVec
	LatencyHistogram  *prometheus.HistogramVec
	Conflicts         *prometheus.CounterVec
	RateLimitHits     prometheus.Counter
	WSConnections     prometheus.Gauge
	WSDroppedMessages prometheus.Counter
	registry          *prometheus.Registry
}

// New creates a Metrics set on its own registry, so tests can build as many as they like.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notesapp_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		LatencyHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notesapp_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		Conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notesapp_conflicts_total",
				Help: "Edit conflicts by lifecycle event (detected, resolved, abandoned)",
			},
			[]string{"event"},
		),
		RateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notesapp_login_rate_limit_hits_total",
			Help: "Login attempts rejected by the rate limiter",
		}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notesapp_websocket_connections",
			Help: "Open websocket subscriptions",
		}),
		WSDroppedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notesapp_websocket_dropped_total",
			Help: "Subscriptions dropped because their send buffer was full",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.RequestCounter,
		m.LatencyHistogram,
		m.Conflicts,
		m.RateLimitHits,
		m.WSConnections,
		m.WSDroppedMessages,
	)

	return m
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, seconds float64) {
	m.RequestCounter.WithLabelValues(method, route, fmt.Sprintf("%d", status)).Inc()
	m.LatencyHistogram.WithLabelValues(method, route).Observe(seconds)
}

// ConflictDetected, ConflictResolved and ConflictAbandoned track the conflict lifecycle.
func (m *Metrics) ConflictDetected()  { m.Conflicts.WithLabelValues("detected").Inc() }
func (m *Metrics) ConflictResolved()  { m.Conflicts.WithLabelValues("resolved").Inc() }
func (m *Metrics) ConflictAbandoned() { m.Conflicts.WithLabelValues("abandoned").Inc() }

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
