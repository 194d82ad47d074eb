// Package observability holds the Prometheus collectors shared by the cache,
// persistence, metrics store and processing pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is nil-safe: every Record method on a nil *Metrics is a no-op, so
// components built without a registry need no guards.
type Metrics struct {
	// Cache metrics
	CacheOperationsTotal *prometheus.CounterVec
	CacheRecords         *prometheus.GaugeVec
	CacheLoadFailures    *prometheus.CounterVec

	// Persistence metrics
	PersistWritesTotal  *prometheus.CounterVec
	PersistWriteSeconds *prometheus.HistogramVec

	// Rollup metrics
	RecomputeTotal   prometheus.Counter
	RecomputeSeconds prometheus.Histogram

	// Pipeline metrics
	PipelineRunsTotal    *prometheus.CounterVec
	PipelineTicketsTotal *prometheus.CounterVec
	PipelineStageSeconds *prometheus.HistogramVec
	EnrichmentTotal      *prometheus.CounterVec
}

func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CacheOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftex_cache_operations_total",
				Help: "Cache operations by store and operation",
			},
			[]string{"store", "op"},
		),
		CacheRecords: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ftex_cache_records",
				Help: "Records currently held per store",
			},
			[]string{"store"},
		),
		CacheLoadFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftex_cache_load_failures_total",
				Help: "Persisted stores that could not be read at startup",
			},
			[]string{"store"},
		),

		PersistWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftex_persist_writes_total",
				Help: "Full-store writes by outcome",
			},
			[]string{"store", "status"},
		),
		PersistWriteSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ftex_persist_write_seconds",
				Help:    "Full-store write latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"store"},
		),

		RecomputeTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ftex_metrics_recompute_total",
				Help: "Full metrics recomputes",
			},
		),
		RecomputeSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ftex_metrics_recompute_seconds",
				Help:    "Metrics recompute latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),

		PipelineRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftex_pipeline_runs_total",
				Help: "Processing runs by outcome",
			},
			[]string{"status"},
		),
		PipelineTicketsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftex_pipeline_tickets_total",
				Help: "Tickets handled by the processing pipeline by outcome",
			},
			[]string{"outcome"},
		),
		PipelineStageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ftex_pipeline_stage_seconds",
				Help:    "Processing pipeline stage latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"stage"},
		),
		EnrichmentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftex_enrichment_requests_total",
				Help: "Enrichment requests by enricher and outcome",
			},
			[]string{"enricher", "status"},
		),
	}
}

func (m *Metrics) RecordCacheOp(store, op string) {
	if m == nil {
		return
	}
	m.CacheOperationsTotal.WithLabelValues(store, op).Inc()
}

func (m *Metrics) SetCacheRecords(store string, n int) {
	if m == nil {
		return
	}
	m.CacheRecords.WithLabelValues(store).Set(float64(n))
}

func (m *Metrics) RecordLoadFailure(store string) {
	if m == nil {
		return
	}
	m.CacheLoadFailures.WithLabelValues(store).Inc()
}

// RecordPersist records one full-store write.
func (m *Metrics) RecordPersist(store string, err error, seconds float64) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.PersistWritesTotal.WithLabelValues(store, status).Inc()
	m.PersistWriteSeconds.WithLabelValues(store).Observe(seconds)
}

func (m *Metrics) RecordRecompute(seconds float64) {
	if m == nil {
		return
	}
	m.RecomputeTotal.Inc()
	m.RecomputeSeconds.Observe(seconds)
}

func (m *Metrics) RecordRun(status string) {
	if m == nil {
		return
	}
	m.PipelineRunsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordTickets(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.PipelineTicketsTotal.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) RecordStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.PipelineStageSeconds.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) RecordEnrichment(enricher, status string) {
	if m == nil {
		return
	}
	m.EnrichmentTotal.WithLabelValues(enricher, status).Inc()
}
