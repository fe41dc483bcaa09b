// Package metrics keeps per-run counters for the seeding workflows and can
// dump them in the node-exporter textfile format when a command exits.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	reg *prometheus.Registry

	pagesFetched      *prometheus.CounterVec
	generationCalls   *prometheus.CounterVec
	generationItems   prometheus.Counter
	throttles         prometheus.Counter
	callSeconds       prometheus.Histogram
	importRows        *prometheus.CounterVec
	importBatchFailed *prometheus.CounterVec
	importRejected    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seedkit_pages_fetched_total",
			Help: "Pages requested by the column enumerator.",
		}, []string{"table"}),
		generationCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seedkit_generation_calls_total",
			Help: "Generation API calls by outcome (ok, error, parse_error, throttled).",
		}, []string{"outcome"}),
		generationItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seedkit_generation_items_total",
			Help: "Content items produced by the generator.",
		}),
		throttles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seedkit_generation_throttles_total",
			Help: "Rate-limit responses received from the generation API.",
		}),
		callSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "seedkit_generation_call_seconds",
			Help:    "Latency of generation API calls.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		importRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seedkit_import_rows_total",
			Help: "Rows inserted by the batch importer.",
		}, []string{"table"}),
		importBatchFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seedkit_import_batch_failures_total",
			Help: "Import batches that failed to insert.",
		}, []string{"table"}),
		importRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seedkit_import_rejected_total",
			Help: "Items rejected by validation before insert.",
		}, []string{"table"}),
	}
	m.reg.MustRegister(
		m.pagesFetched,
		m.generationCalls,
		m.generationItems,
		m.throttles,
		m.callSeconds,
		m.importRows,
		m.importBatchFailed,
		m.importRejected,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) PageFetched(table string) {
	if m == nil {
		return
	}
	m.pagesFetched.WithLabelValues(table).Inc()
}

func (m *Metrics) GenerationCall(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.generationCalls.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.callSeconds.Observe(d.Seconds())
	}
}

func (m *Metrics) ItemsGenerated(n int) {
	if m == nil {
		return
	}
	m.generationItems.Add(float64(n))
}

func (m *Metrics) Throttled() {
	if m == nil {
		return
	}
	m.throttles.Inc()
}

func (m *Metrics) RowsImported(table string, n int) {
	if m == nil {
		return
	}
	m.importRows.WithLabelValues(table).Add(float64(n))
}

func (m *Metrics) BatchFailed(table string) {
	if m == nil {
		return
	}
	m.importBatchFailed.WithLabelValues(table).Inc()
}

func (m *Metrics) Rejected(table string, n int) {
	if m == nil {
		return
	}
	m.importRejected.WithLabelValues(table).Add(float64(n))
}

// WriteTextfile writes all metrics to path for the node-exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
