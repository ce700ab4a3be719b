package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors of one process.
type Metrics struct {
	registry     *prometheus.Registry
	requestCount *prometheus.CounterVec
	errorCount   *prometheus.CounterVec
	passOutcomes *prometheus.CounterVec
	passDuration *prometheus.HistogramVec
}

// NewMetrics registers collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slatracker",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slatracker",
			Name:      "http_errors_total",
			Help:      "HTTP errors by route, method and error code.",
		}, []string{"path", "method", "code"}),
		passOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slatracker",
			Name:      "pass_outcomes_total",
			Help:      "Per-ticket outcomes of tracker passes.",
		}, []string{"pass", "outcome"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "slatracker",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of tracker passes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pass"}),
	}
	m.registry.MustRegister(m.requestCount, m.errorCount, m.passOutcomes, m.passDuration)
	return m
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(path, method, code).Inc()
}

// RecordOutcome adds n to the outcome counter of a pass.
func (m *Metrics) RecordOutcome(pass, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.passOutcomes.WithLabelValues(pass, outcome).Add(float64(n))
}

// ObservePass records the duration of a pass.
func (m *Metrics) ObservePass(pass string, duration time.Duration) {
	if m == nil {
		return
	}
	m.passDuration.WithLabelValues(pass).Observe(duration.Seconds())
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
