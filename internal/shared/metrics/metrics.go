package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several applications can live in one process (tests).
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request rate by route and status.
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP request latency per request.
	HTTPRequestDuration *prometheus.HistogramVec
	// Repository calls by operation and outcome (ok, not_found, unavailable, error).
	StoreOperationsTotal *prometheus.CounterVec
	// Change events fanned out to live-feed clients and sinks.
	EventsPublishedTotal *prometheus.CounterVec
	// Connected live-feed clients.
	LiveFeedClients prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "students_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "students_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	m.StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "students_store_operations_total",
			Help: "Repository operations by outcome",
		},
		[]string{"operation", "outcome"},
	)
	m.EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "students_events_published_total",
			Help: "Student change events published",
		},
		[]string{"type"},
	)
	m.LiveFeedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "students_live_feed_clients",
			Help: "Connected live-feed websocket clients",
		},
	)

	m.registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StoreOperationsTotal,
		m.EventsPublishedTotal,
		m.LiveFeedClients,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStoreOperation counts one repository call.
func (m *Metrics) ObserveStoreOperation(operation, outcome string) {
	m.StoreOperationsTotal.WithLabelValues(operation, outcome).Inc()
}
