package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/idconsensus/internal/datastore"
	"github.com/tphakala/idconsensus/internal/datastore/entities"
	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/logger"
	"github.com/tphakala/idconsensus/internal/observability"
	"github.com/tphakala/idconsensus/internal/observation"
	"github.com/tphakala/idconsensus/internal/service"
	tt "github.com/tphakala/idconsensus/internal/taxonomy/taxonomytest"
)

func newTestServer(t *testing.T) (*Server, *datastore.Store) {
	t.Helper()
	mgr, err := datastore.NewSQLiteManager(datastore.SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize(t.Context()))
	t.Cleanup(func() { _ = mgr.Close() })

	store := datastore.NewStore(mgr.DB())
	for _, login := range []string{"owner", "kueda", "tiwane"} {
		require.NoError(t, store.Users().Create(t.Context(), &entities.User{Login: login}))
	}
	svc, err := service.New(service.Config{Store: store, Tree: tt.Tree(), Logger: logger.NewDiscardLogger()})
	require.NoError(t, err)

	m, err := observability.NewMetrics()
	require.NoError(t, err)
	srv, err := New(svc, DefaultConfig(),
		WithLogger(logger.NewDiscardLogger()),
		WithMetrics(m),
		WithOutbox(store.Outbox()),
	)
	require.NoError(t, err)
	return srv, store
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestIdentificationLifecycle(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/observations", `{"user_id":1,"taxon_id":`+itoa(tt.CalypteAnna)+`}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[ObservationResponse](t, rec)
	obsID := created.Observation.ID
	assert.Equal(t, observation.GradeNeedsID, created.Observation.QualityGrade)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, srv, http.MethodPost, "/api/v1/identifications",
		`{"observation_id":`+itoa(obsID)+`,"user_id":2,"taxon_id":`+itoa(tt.CalypteAnna)+`,"body":"nice @tiwane"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ident := decode[IdentificationResponse](t, rec)
	assert.Equal(t, observation.GradeResearch, ident.Observation.QualityGrade)
	kinds := make([]string, 0, len(ident.Effects))
	for _, e := range ident.Effects {
		kinds = append(kinds, string(e.Kind))
	}
	assert.Contains(t, kinds, "notify_mention")
	assert.Contains(t, kinds, "counter_delta")

	rec = do(t, srv, http.MethodPatch, "/api/v1/identifications/"+itoa(ident.Identification.ID), `{"taxon_id":`+itoa(tt.Calypte)+`}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[IdentificationResponse](t, rec)
	assert.Equal(t, "nice @tiwane", updated.Identification.Body, "absent fields are kept")
	assert.Equal(t, observation.GradeNeedsID, updated.Observation.QualityGrade)

	rec = do(t, srv, http.MethodGet, "/api/v1/observations/"+itoa(obsID)+"/identifications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Identifications []observation.Identification `json:"identifications"`
	}](t, rec)
	assert.Len(t, list.Identifications, 2)

	rec = do(t, srv, http.MethodDelete, "/api/v1/identifications/"+itoa(ident.Identification.ID), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/v1/observations/"+itoa(obsID)+"/recompute", "")
	require.Equal(t, http.StatusOK, rec.Code)
	recomputed := decode[ObservationResponse](t, rec)
	assert.Empty(t, recomputed.Effects)
	assert.Equal(t, tt.CalypteAnna, observation.UintValue(recomputed.Observation.CommunityTaxonID))
}

func TestCuratorPointerRoute(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t)
	ctx := t.Context()

	rec := do(t, srv, http.MethodPost, "/api/v1/observations", `{"user_id":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	obsID := decode[ObservationResponse](t, rec).Observation.ID

	project := &entities.Project{Title: "Backyard birds"}
	require.NoError(t, store.Projects().Create(ctx, project))
	require.NoError(t, store.Projects().SetRole(ctx, project.ID, 2, entities.RoleCurator))
	require.NoError(t, store.Projects().AddObservation(ctx, project.ID, obsID))

	rec = do(t, srv, http.MethodPost, "/api/v1/identifications",
		`{"observation_id":`+itoa(obsID)+`,"user_id":2,"taxon_id":`+itoa(tt.Aves)+`}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	identID := decode[IdentificationResponse](t, rec).Identification.ID

	rec = do(t, srv, http.MethodGet, "/api/v1/observations/"+itoa(obsID)+"/projects/"+itoa(project.ID)+"/curator-pointer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	pointer := decode[CuratorPointerResponse](t, rec)
	require.NotNil(t, pointer.IdentificationID)
	assert.Equal(t, identID, *pointer.IdentificationID)
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing observation", http.MethodGet, "/api/v1/observations/999", "", http.StatusNotFound},
		{"bad id", http.MethodGet, "/api/v1/observations/abc", "", http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/v1/identifications", `{"user_id":`, http.StatusBadRequest},
		{"missing taxon", http.MethodPost, "/api/v1/identifications", `{"observation_id":1,"user_id":2}`, http.StatusUnprocessableEntity},
		{"unknown identification", http.MethodDelete, "/api/v1/identifications/77", "", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/v1/nowhere", "", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, srv, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tc.want, resp.Code)
			assert.Len(t, resp.CorrelationID, 8)
		})
	}
}

// stubPipeline fails every call with err.
type stubPipeline struct {
	Pipeline
	err error
}

func (p *stubPipeline) GetObservation(context.Context, uint) (*observation.Observation, error) {
	return nil, p.err
}

func TestLookupFailureIsRetryable(t *testing.T) {
	t.Parallel()
	lookup := errors.LookupFailure(errors.NewStd("taxonomy service timed out")).Component("taxonomy").Build()
	srv, err := New(&stubPipeline{err: lookup}, DefaultConfig(), WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, err)

	rec := do(t, srv, http.MethodGet, "/api/v1/observations/1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, retryAfterSeconds, rec.Header().Get("Retry-After"))
	assert.NotContains(t, rec.Body.String(), "timed out", "internal details are not exposed")
}

func TestInvalidStateIsConflict(t *testing.T) {
	t.Parallel()
	state := errors.InvalidState("user %d has %d current identifications", 2, 2).Build()
	srv, err := New(&stubPipeline{err: state}, DefaultConfig(), WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, err)

	rec := do(t, srv, http.MethodGet, "/api/v1/observations/1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", health["status"])
	assert.Contains(t, health, "outbox")

	do(t, srv, http.MethodGet, "/api/v1/observations/999", "")
	rec = do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",path="/api/v1/observations/:id",status_code="404"} 1`)
	assert.Contains(t, rec.Body.String(), "idconsensus_outbox_rows")
}

func TestFailingHealthCheck(t *testing.T) {
	t.Parallel()
	srv, err := New(&stubPipeline{}, DefaultConfig(),
		WithLogger(logger.NewDiscardLogger()),
		WithHealthCheck("database", func(context.Context) error { return errors.NewStd("connection refused") }),
	)
	require.NoError(t, err)

	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestInvalidateTaxonRoute(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/observations", `{"user_id":1,"taxon_id":`+itoa(tt.CalypteAnna)+`}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/taxa/"+itoa(tt.Calypte)+"/invalidate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]float64](t, rec)
	assert.Positive(t, body["invalidated"])
}

func itoa(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}
