package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// TaxonomyMetrics tracks taxon tree lookups: cache hits and misses, and
// fetches against the backing source.
type TaxonomyMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	invalidations     prometheus.Counter
	registry          *prometheus.Registry
}

// NewTaxonomyMetrics creates and registers the taxonomy collectors.
func NewTaxonomyMetrics(registry *prometheus.Registry) (*TaxonomyMetrics, error) {
	m := &TaxonomyMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register taxonomy metrics: %w", err)
	}
	return m, nil
}

func (m *TaxonomyMetrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idconsensus_taxonomy_operations_total",
			Help: "Taxon tree operations by outcome",
		},
		[]string{"operation", "status"}, // operation: cache_lookup, fetch; status: hit, miss, success, not_found, timeout, error
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idconsensus_taxonomy_operation_duration_seconds",
			Help:    "Time taken by taxon source fetches",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idconsensus_taxonomy_errors_total",
			Help: "Taxon tree errors by category",
		},
		[]string{"operation", "error_type"},
	)

	m.invalidations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idconsensus_taxonomy_invalidated_entries_total",
		Help: "Cached taxa dropped by invalidation",
	})
}

// RecordOperation implements the Recorder interface.
func (m *TaxonomyMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements the Recorder interface.
func (m *TaxonomyMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements the Recorder interface.
func (m *TaxonomyMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordInvalidation counts entries dropped from the lineage cache.
func (m *TaxonomyMetrics) RecordInvalidation(entries int) {
	m.invalidations.Add(float64(entries))
}

// Collect implements the prometheus.Collector interface.
func (m *TaxonomyMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operationsTotal.Collect(ch)
	m.operationDuration.Collect(ch)
	m.errorsTotal.Collect(ch)
	ch <- m.invalidations
}

// Describe implements the prometheus.Collector interface.
func (m *TaxonomyMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operationsTotal.Describe(ch)
	m.operationDuration.Describe(ch)
	m.errorsTotal.Describe(ch)
	ch <- m.invalidations.Desc()
}
