// Package metrics carries the server's own telemetry, exposed on
// /debug/metrics. These are about the process, not the stored series.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	IngestTotal  *prometheus.CounterVec
	QueryTotal   *prometheus.CounterVec
	RequestTotal *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ringtsdb",
			Name:      "ingest_total",
			Help:      "Samples ingested, by metric type and outcome.",
		}, []string{"type", "outcome"}),
		QueryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ringtsdb",
			Name:      "query_total",
			Help:      "SQL queries executed, by outcome.",
		}, []string{"outcome"}),
		RequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ringtsdb",
			Name:      "http_requests_total",
			Help:      "HTTP requests, by route and status.",
		}, []string{"route", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ringtsdb",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.registry.MustRegister(m.IngestTotal, m.QueryTotal, m.RequestTotal, m.Duration)
	return m
}

// Handler serves the exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
