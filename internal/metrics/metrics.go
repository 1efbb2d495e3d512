// Package metrics exposes the orchestrator's Prometheus surface: cascade
// call outcomes and latency, plus a per-model gauge of errors in the last
// hour sourced from the health store.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acteon/acteon/internal/health"
)

type Metrics struct {
	registry *prometheus.Registry
	calls    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New builds the registry. When h is non-nil, a collector exporting
// per-key error counts is registered alongside the call counters.
func New(h health.Store) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acteon_model_calls_total",
			Help: "Model call attempts by endpoint, model, and outcome.",
		}, []string{"endpoint", "model", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acteon_model_call_seconds",
			Help:    "Model call latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"endpoint", "model"}),
	}
	m.registry.MustRegister(m.calls, m.latency)
	if h != nil {
		m.registry.MustRegister(newHealthCollector(h))
	}
	return m
}

// ObserveCall implements the cascade's observer hook.
func (m *Metrics) ObserveCall(endpoint, model, outcome string, seconds float64) {
	m.calls.WithLabelValues(endpoint, model, outcome).Inc()
	if outcome != "skip" {
		m.latency.WithLabelValues(endpoint, model).Observe(seconds)
	}
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// healthCollector exports the health store's last-hour error counts as a
// gauge per key, the same ordering signal the cascade's fallback pass uses.
type healthCollector struct {
	store health.Store
	desc  *prometheus.Desc
}

func newHealthCollector(store health.Store) *healthCollector {
	return &healthCollector{
		store: store,
		desc: prometheus.NewDesc(
			"acteon_model_errors_last_hour",
			"Errors recorded for a model key in the last hour.",
			[]string{"key"}, nil,
		),
	}
}

func (c *healthCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *healthCollector) Collect(ch chan<- prometheus.Metric) {
	for _, key := range c.store.Keys() {
		st := c.store.Stats(key)
		ch <- prometheus.MustNewConstMetric(
			c.desc, prometheus.GaugeValue,
			float64(st[health.MetricError].LastHour), key,
		)
	}
}
