package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gather returns the metric family called name, or nil.
func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

// counterValue sums the counters in family name whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	mf := gather(t, reg, name)
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		if matches(m, want) {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func matches(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestTaxonomyMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m, err := NewTaxonomyMetrics(reg)
	require.NoError(t, err)

	m.RecordOperation("cache_lookup", "hit")
	m.RecordOperation("cache_lookup", "hit")
	m.RecordOperation("cache_lookup", "miss")
	m.RecordDuration("fetch", 0.02)
	m.RecordInvalidation(3)

	assert.InDelta(t, 2, counterValue(t, reg, "idconsensus_taxonomy_operations_total",
		map[string]string{"operation": "cache_lookup", "status": "hit"}), 0)
	assert.InDelta(t, 3, counterValue(t, reg, "idconsensus_taxonomy_invalidated_entries_total", nil), 0)

	hist := gather(t, reg, "idconsensus_taxonomy_operation_duration_seconds")
	require.NotNil(t, hist)
	assert.Equal(t, uint64(1), hist.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestEffectsMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m, err := NewEffectsMetrics(reg)
	require.NoError(t, err)

	m.RecordOperation("deliver", "retry")
	m.RecordError("deliver", "broker")
	m.SetOutboxRows("pending", 7)
	m.SetOutboxRows("pending", 4)

	assert.InDelta(t, 1, counterValue(t, reg, "idconsensus_effects_operations_total",
		map[string]string{"operation": "deliver", "status": "retry"}), 0)
	assert.InDelta(t, 1, counterValue(t, reg, "idconsensus_effects_errors_total",
		map[string]string{"error_type": "broker"}), 0)

	rows := gather(t, reg, "idconsensus_outbox_rows")
	require.NotNil(t, rows)
	assert.InDelta(t, 4, rows.GetMetric()[0].GetGauge().GetValue(), 0)
}

func TestConsensusMetricsGradeTransitions(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m, err := NewConsensusMetrics(reg)
	require.NoError(t, err)

	m.RecordGradeTransition("needs_id", "research")
	m.RecordGradeTransition("needs_id", "research")
	m.RecordGradeTransition("research", "needs_id")
	m.RecordOperation("identification_created", "success")

	assert.InDelta(t, 2, counterValue(t, reg, "idconsensus_quality_grade_transitions_total",
		map[string]string{"from": "needs_id", "to": "research"}), 0)
	assert.InDelta(t, 1, counterValue(t, reg, "idconsensus_pipeline_events_total",
		map[string]string{"status": "success"}), 0)
}

func TestHTTPMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	m.RequestStarted()
	m.RequestStarted()
	m.RequestFinished()
	assert.InDelta(t, 1, m.InFlight(), 0)

	m.RecordHTTPRequest("GET", "/api/v1/observations/:id", 404, 0.003)
	m.RecordHTTPRequestError("GET", "/api/v1/observations/:id", "not-found")
	assert.InDelta(t, 1, counterValue(t, reg, "http_requests_total",
		map[string]string{"status_code": "404"}), 0)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	_, err := NewConsensusMetrics(reg)
	require.NoError(t, err)
	_, err = NewConsensusMetrics(reg)
	assert.Error(t, err)
}
