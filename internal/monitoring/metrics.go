// Package monitoring exposes Prometheus metrics for the extension host.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Query metrics
	QueriesTotal  *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	// Lifecycle metrics
	ExtensionsLoaded prometheus.Gauge
	LoadsTotal       *prometheus.CounterVec

	// HTTP API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a metrics collector registered on the default registry.
// Create at most one per process.
func NewMetrics() *Metrics {
	return &Metrics{
		QueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_queries_total",
				Help: "Total contract-method queries by operation and status",
			},
			[]string{"operation", "status"},
		),
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "host_query_duration_seconds",
				Help:    "Contract-method query duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ExtensionsLoaded: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "host_extensions_loaded",
				Help: "Number of currently loaded extensions",
			},
		),
		LoadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_extension_loads_total",
				Help: "Extension load attempts by status",
			},
			[]string{"status"},
		),
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_http_requests_total",
				Help: "Total HTTP API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "host_http_request_duration_seconds",
				Help:    "HTTP API request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordQuery records the outcome of one contract-method query.
func (m *Metrics) RecordQuery(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(operation, status).Inc()
	m.QueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLoad records one load attempt.
func (m *Metrics) RecordLoad(status string) {
	if m == nil {
		return
	}
	m.LoadsTotal.WithLabelValues(status).Inc()
}

// SetLoaded records the current number of loaded extensions.
func (m *Metrics) SetLoaded(n int) {
	if m == nil {
		return
	}
	m.ExtensionsLoaded.Set(float64(n))
}

// RecordRequest records one HTTP API request.
func (m *Metrics) RecordRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
