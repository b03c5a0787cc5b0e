package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's prometheus collectors on a private registry.
// The engine never serves the registry over HTTP; embedders that want
// exposition gather from Registry() themselves.
type Metrics struct {
	registry *prometheus.Registry

	// Parse metrics
	FramesParsed prometheus.Counter     // Scan frames parsed successfully
	ParseErrors  *prometheus.CounterVec // Parse failures by error kind

	// Index metrics
	CacheHits    prometheus.Counter // Lookups served from the frame cache
	CacheMisses  prometheus.Counter // Lookups that had to load from disk
	Evictions    prometheus.Counter // Cache entries dropped by Refresh
	TrackedFiles prometheus.Gauge   // Files currently tracked by the index

	// Fit metrics
	FitsTotal         prometheus.Counter // Parabola fits attempted
	FitsNonConvergent prometheus.Counter // Fits that fell back to the constant model

	// Batch metrics
	ExportsTotal   prometheus.Counter // Export files written
	BatchCancelled prometheus.Counter // Batches stopped before completion
}

// NewMetrics creates the engine metrics on a fresh registry, along with
// the standard Go runtime and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,

		FramesParsed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sxm",
			Name:      "frames_parsed_total",
			Help:      "Number of scan frames parsed successfully.",
		}),
		ParseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sxm",
			Name:      "parse_errors_total",
			Help:      "Number of parse failures, partitioned by error kind.",
		}, []string{"kind"}),

		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sxm",
			Name:      "cache_hits_total",
			Help:      "Number of frame lookups served from the in-memory cache.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sxm",
			Name:      "cache_misses_total",
			Help:      "Number of frame lookups that required a disk load.",
		}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sxm",
			Name:      "cache_evictions_total",
			Help:      "Number of cached frames evicted after on-disk changes.",
		}),
		TrackedFiles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sxm",
			Name:      "tracked_files",
			Help:      "Number of files currently tracked by the dataset index.",
		}),

		FitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sxm",
			Name:      "fits_total",
			Help:      "Number of parabola fits attempted.",
		}),
		FitsNonConvergent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sxm",
			Name:      "fits_nonconvergent_total",
			Help:      "Number of fits that degenerated to the constant fallback.",
		}),

		ExportsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sxm",
			Name:      "exports_total",
			Help:      "Number of export files written.",
		}),
		BatchCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sxm",
			Name:      "batch_cancelled_total",
			Help:      "Number of batch operations stopped by cancellation.",
		}),
	}

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the registry every engine metric is registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordParse records one successfully parsed frame.
func (m *Metrics) RecordParse() {
	m.FramesParsed.Inc()
}

// RecordParseError records a parse failure under its error kind.
func (m *Metrics) RecordParseError(kind string) {
	m.ParseErrors.WithLabelValues(kind).Inc()
}

// RecordCacheHit records a lookup served from the cache.
func (m *Metrics) RecordCacheHit() {
	m.CacheHits.Inc()
}

// RecordCacheMiss records a lookup that went to disk.
func (m *Metrics) RecordCacheMiss() {
	m.CacheMisses.Inc()
}

// RecordEvictions records n cache entries dropped in one refresh pass.
func (m *Metrics) RecordEvictions(n int) {
	m.Evictions.Add(float64(n))
}

// SetTrackedFiles records the current size of the dataset index.
func (m *Metrics) SetTrackedFiles(n int) {
	m.TrackedFiles.Set(float64(n))
}

// RecordFit records one fit attempt and whether the parabola model held.
func (m *Metrics) RecordFit(converged bool) {
	m.FitsTotal.Inc()
	if !converged {
		m.FitsNonConvergent.Inc()
	}
}

// RecordExport records one export file written.
func (m *Metrics) RecordExport() {
	m.ExportsTotal.Inc()
}

// RecordCancellation records a batch stopped before completion.
func (m *Metrics) RecordCancellation() {
	m.BatchCancelled.Inc()
}
