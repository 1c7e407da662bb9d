package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ConsensusMetrics tracks the identification pipeline.
type ConsensusMetrics struct {
	eventsTotal      *prometheus.CounterVec
	eventDuration    *prometheus.HistogramVec
	errorsTotal      *prometheus.CounterVec
	gradeTransitions *prometheus.CounterVec
	registry         *prometheus.Registry
}

// NewConsensusMetrics creates and registers the pipeline collectors.
func NewConsensusMetrics(registry *prometheus.Registry) (*ConsensusMetrics, error) {
	m := &ConsensusMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register consensus metrics: %w", err)
	}
	return m, nil
}

func (m *ConsensusMetrics) initMetrics() {
	m.eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idconsensus_pipeline_events_total",
			Help: "Identification events processed by outcome",
		},
		[]string{"operation", "status"}, // operation: identification_created, recompute, ...; status: success, not_found, ...
	)

	m.eventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idconsensus_pipeline_event_duration_seconds",
			Help:    "Time taken to process an identification event, including the lock wait",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount15), // 0.1ms to ~3s
		},
		[]string{"operation"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idconsensus_pipeline_errors_total",
			Help: "Pipeline errors by category",
		},
		[]string{"operation", "error_type"},
	)

	m.gradeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idconsensus_quality_grade_transitions_total",
			Help: "Quality grade changes written by the pipeline",
		},
		[]string{"from", "to"},
	)
}

// RecordOperation implements the Recorder interface.
func (m *ConsensusMetrics) RecordOperation(operation, status string) {
	m.eventsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements the Recorder interface.
func (m *ConsensusMetrics) RecordDuration(operation string, seconds float64) {
	m.eventDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements the Recorder interface.
func (m *ConsensusMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordGradeTransition counts one quality grade change.
func (m *ConsensusMetrics) RecordGradeTransition(from, to string) {
	m.gradeTransitions.WithLabelValues(from, to).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *ConsensusMetrics) Collect(ch chan<- prometheus.Metric) {
	m.eventsTotal.Collect(ch)
	m.eventDuration.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.gradeTransitions.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *ConsensusMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.eventsTotal.Describe(ch)
	m.eventDuration.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.gradeTransitions.Describe(ch)
}
