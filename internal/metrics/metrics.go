// Package metrics provides Prometheus metrics for the brokerage API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "brokerage"

// Metrics owns a private registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInflight prometheus.Gauge

	contractsCreated  prometheus.Counter
	contractsRejected *prometheus.CounterVec
	cleanupFailures   prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of handled HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		httpInflight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),

		contractsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "contracts",
				Name:      "created_total",
				Help:      "Total number of contracts created",
			},
		),
		contractsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "contracts",
				Name:      "rejected_total",
				Help:      "Total number of contract writes rejected, by reason",
			},
			[]string{"reason"},
		),
		cleanupFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "attachments",
				Name:      "cleanup_failures_total",
				Help:      "Total number of staged attachments that could not be deleted",
			},
		),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) InflightInc() { m.httpInflight.Inc() }
func (m *Metrics) InflightDec() { m.httpInflight.Dec() }

func (m *Metrics) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ContractCreated() {
	m.contractsCreated.Inc()
}

func (m *Metrics) ContractRejected(reason string) {
	m.contractsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) CleanupFailed() {
	m.cleanupFailures.Inc()
}
