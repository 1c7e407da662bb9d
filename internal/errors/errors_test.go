package errors

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu       sync.Mutex
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.IsReported())
}

func TestBuilderSetsFields(t *testing.T) {
	ee := Newf("taxon %d missing", 42).
		Component("taxonomy").
		Category(CategoryNotFound).
		Priority(PriorityLow).
		Context("taxon_id", 42).
		Timing("fetch_taxon", 150*time.Millisecond).
		Build()

	assert.Equal(t, "taxon 42 missing", ee.Error())
	assert.Equal(t, "taxonomy", ee.GetComponent())
	assert.Equal(t, "not-found", ee.GetCategory())
	assert.Equal(t, PriorityLow, ee.GetPriority())

	ctx := ee.GetContext()
	assert.Equal(t, 42, ctx["taxon_id"])
	assert.Equal(t, "fetch_taxon", ctx["operation"])
	assert.Equal(t, int64(150), ctx["duration_ms"])
}

func TestUnknownPriorityFallsBackToMedium(t *testing.T) {
	ee := Newf("x").Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, ee.Priority)
}

func TestCategoryInheritedFromWrappedError(t *testing.T) {
	inner := LookupFailure(NewStd("taxonomy down")).Build()
	outer := New(fmt.Errorf("recompute: %w", inner)).Build()

	assert.Equal(t, CategoryLookup, outer.Category)
	assert.True(t, IsLookupFailure(outer))
	assert.True(t, IsRetryable(outer))
}

func TestDomainConstructors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		state     bool
		lookup    bool
		notFound  bool
		retryable bool
	}{
		{"invalid state", InvalidState("user %d has two current identifications", 7).Build(), true, false, false, false},
		{"lookup failure", LookupFailure(NewStd("timeout")).Build(), false, true, false, true},
		{"not found", NotFound("observation %d", 1).Build(), false, false, true, false},
		{"plain", NewStd("boom"), false, false, false, false},
		{"nil", nil, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.state, IsInvalidState(tt.err))
			assert.Equal(t, tt.lookup, IsLookupFailure(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestEnhancedErrorIsMatchesCategory(t *testing.T) {
	a := InvalidState("a").Build()
	b := InvalidState("b").Build()
	c := NotFound("c").Build()

	assert.True(t, Is(a, b))
	assert.False(t, Is(a, c))
}

func TestUnwrapReachesSentinel(t *testing.T) {
	sentinel := NewStd("record not found")
	ee := New(fmt.Errorf("lookup: %w", sentinel)).Category(CategoryNotFound).Build()

	require.ErrorIs(t, ee, sentinel)
}

func TestReporterReceivesErrors(t *testing.T) {
	reporter := &recordingReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	InvalidState("two current identifications").Component("datastore").Build()
	NotFound("observation 9").Build()

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	require.Len(t, reporter.reported, 1, "not-found errors are not reported")
	assert.Equal(t, "datastore", reporter.reported[0].GetComponent())
	assert.True(t, reporter.reported[0].IsReported())
}

func TestScrubMessage(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		absent  string
		present string
	}{
		{"query string", "GET https://api.inaturalist.org/v1/taxa/3?locale=en&token=abc", "token=abc", "?[REDACTED]"},
		{"api key", "config: api_key=secret123 rejected", "secret123", "api_key=[REDACTED]"},
		{"dsn password", "dial root:hunter2@tcp(db:3306)", "hunter2", "root:[REDACTED]@"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ScrubMessage(tt.in)
			assert.NotContains(t, out, tt.absent)
			assert.Contains(t, out, tt.present)
		})
	}
}

func TestGenerateErrorTitle(t *testing.T) {
	ee := LookupFailure(NewStd("timeout")).Component("taxonomy").Context("operation", "fetch_taxon").Build()
	assert.Equal(t, "Taxonomy Lookup Failure Fetch Taxon", generateErrorTitle(ee))
}

func TestConcurrentComponentAccess(t *testing.T) {
	ee := &EnhancedError{Err: NewStd("x"), Category: CategoryGeneric}

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			_ = ee.GetComponent()
		})
	}
	wg.Wait()

	assert.NotEmpty(t, ee.GetComponent())
}
