// Package metrics exposes Prometheus instrumentation for ingestion and queries.
//
// Every method is safe on a nil *Metrics, so components can take an optional
// collector without guarding each call.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "paperdex"

// Metrics holds the collectors and the registry they are registered with
type Metrics struct {
	registry *prometheus.Registry

	SourcesTotal   *prometheus.CounterVec
	ChunksInserted prometheus.Counter
	RetriesTotal   *prometheus.CounterVec
	CallDuration   *prometheus.HistogramVec
	QueriesTotal   *prometheus.CounterVec
}

// New creates collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SourcesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "sources_total",
				Help:      "Sources processed, by final state",
			},
			[]string{"state"},
		),

		ChunksInserted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "chunks_inserted_total",
				Help:      "Documents inserted into the store",
			},
		),

		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "retries_total",
				Help:      "Retried attempts, by error class",
			},
			[]string{"class"},
		),

		CallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "external",
				Name:      "call_duration_seconds",
				Help:      "External capability call latency",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"op", "outcome"},
		),

		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "query",
				Name:      "total",
				Help:      "Similarity queries served",
			},
			[]string{"cache"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SourceFinished counts a source reaching a terminal state
func (m *Metrics) SourceFinished(state string) {
	if m == nil {
		return
	}
	m.SourcesTotal.WithLabelValues(state).Inc()
}

// AddChunks counts inserted documents
func (m *Metrics) AddChunks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ChunksInserted.Add(float64(n))
}

// Retry counts one retried attempt
func (m *Metrics) Retry(class string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(class).Inc()
}

// ObserveCall records the latency of an external call started at start
func (m *Metrics) ObserveCall(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.CallDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// Query counts one served query
func (m *Metrics) Query(cacheHit bool) {
	if m == nil {
		return
	}
	label := "miss"
	if cacheHit {
		label = "hit"
	}
	m.QueriesTotal.WithLabelValues(label).Inc()
}
