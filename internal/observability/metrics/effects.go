package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// EffectsMetrics tracks outbox delivery.
type EffectsMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	outboxRows        *prometheus.GaugeVec
	registry          *prometheus.Registry
}

// NewEffectsMetrics creates and registers the effect delivery collectors.
func NewEffectsMetrics(registry *prometheus.Registry) (*EffectsMetrics, error) {
	m := &EffectsMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register effects metrics: %w", err)
	}
	return m, nil
}

func (m *EffectsMetrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idconsensus_effects_operations_total",
			Help: "Outbox polls and effect deliveries by outcome",
		},
		[]string{"operation", "status"}, // operation: poll, deliver; status: delivered, retry, failed, error
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idconsensus_effects_operation_duration_seconds",
			Help:    "Time taken by outbox polls and deliveries",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15), // 1ms to ~32s
		},
		[]string{"operation"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idconsensus_effects_errors_total",
			Help: "Effect delivery errors by category",
		},
		[]string{"operation", "error_type"},
	)

	m.outboxRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "idconsensus_outbox_rows",
			Help: "Outbox rows by status, as of the last stats refresh",
		},
		[]string{"status"},
	)
}

// RecordOperation implements the Recorder interface.
func (m *EffectsMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements the Recorder interface.
func (m *EffectsMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements the Recorder interface.
func (m *EffectsMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// SetOutboxRows publishes the row count for one outbox status.
func (m *EffectsMetrics) SetOutboxRows(status string, rows int64) {
	m.outboxRows.WithLabelValues(status).Set(float64(rows))
}

// Collect implements the prometheus.Collector interface.
func (m *EffectsMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operationsTotal.Collect(ch)
	m.operationDuration.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.outboxRows.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *EffectsMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operationsTotal.Describe(ch)
	m.operationDuration.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.outboxRows.Describe(ch)
}
