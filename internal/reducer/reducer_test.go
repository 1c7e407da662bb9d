package reducer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/idconsensus/internal/datastore"
	"github.com/tphakala/idconsensus/internal/datastore/entities"
	"github.com/tphakala/idconsensus/internal/effects"
	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/observation"
)

func newTestReducer(t *testing.T) (*Reducer, *datastore.Store) {
	t.Helper()
	mgr, err := datastore.NewSQLiteManager(datastore.SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize(t.Context()))
	t.Cleanup(func() { _ = mgr.Close() })
	store := datastore.NewStore(mgr.DB())
	return New(store, nil), store
}

func envelope(t *testing.T, eff effects.Effect) effects.Envelope {
	t.Helper()
	records, err := effects.Encode(time.Now().UTC(), eff)
	require.NoError(t, err)
	return effects.EnvelopeFromRecord(&records[0])
}

func TestCounterDeltaAppliedOnce(t *testing.T) {
	t.Parallel()
	r, store := newTestReducer(t)

	user := &entities.User{Login: "kueda"}
	require.NoError(t, store.Users().Create(t.Context(), user))

	env := envelope(t, effects.CounterDelta{UserID: user.ID, ObservationID: 1, IdentificationID: 2, Delta: 1})
	require.NoError(t, r.Deliver(t.Context(), env))
	require.NoError(t, r.Deliver(t.Context(), env), "redelivery is a no-op")

	got, err := store.Users().Get(t.Context(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.IdentificationsCount)

	// a different message with the same effect is a separate application
	require.NoError(t, r.Deliver(t.Context(), envelope(t, effects.CounterDelta{UserID: user.ID, ObservationID: 1, IdentificationID: 2, Delta: -1})))
	got, err = store.Users().Get(t.Context(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.IdentificationsCount)
}

func TestCounterDeltaUnknownUser(t *testing.T) {
	t.Parallel()
	r, _ := newTestReducer(t)
	require.NoError(t, r.Deliver(t.Context(), envelope(t, effects.CounterDelta{UserID: 404, ObservationID: 1, IdentificationID: 1, Delta: 1})))
}

func TestReviewEffects(t *testing.T) {
	t.Parallel()
	r, store := newTestReducer(t)

	require.NoError(t, r.Deliver(t.Context(), envelope(t, effects.EnsureObservationReview{ObservationID: 5, UserID: 2})))
	review, err := store.Reviews().Get(t.Context(), 5, 2)
	require.NoError(t, err)
	assert.True(t, review.Reviewed)
	assert.False(t, review.UserAdded)

	require.NoError(t, r.Deliver(t.Context(), envelope(t, effects.RemoveObservationReview{ObservationID: 5, UserID: 2})))
	_, err = store.Reviews().Get(t.Context(), 5, 2)
	assert.True(t, errors.IsNotFound(err))

	// user-added reviews survive removal
	require.NoError(t, store.Reviews().MarkUserAdded(t.Context(), 5, 3))
	require.NoError(t, r.Deliver(t.Context(), envelope(t, effects.RemoveObservationReview{ObservationID: 5, UserID: 3})))
	_, err = store.Reviews().Get(t.Context(), 5, 3)
	require.NoError(t, err)
}

func TestEnsureReviewTouchesExisting(t *testing.T) {
	t.Parallel()
	r, store := newTestReducer(t)
	stale := time.Now().UTC().Add(-24 * time.Hour)

	require.NoError(t, store.Reviews().MarkUserAdded(t.Context(), 5, 3))
	require.NoError(t, store.Reviews().Touch(t.Context(), 5, 3, stale))

	require.NoError(t, r.Deliver(t.Context(), envelope(t, effects.EnsureObservationReview{ObservationID: 5, UserID: 3})))

	review, err := store.Reviews().Get(t.Context(), 5, 3)
	require.NoError(t, err)
	assert.True(t, review.UpdatedAt.After(stale), "existing review is touched")
	assert.True(t, review.UserAdded)

	require.NoError(t, store.Reviews().Touch(t.Context(), 5, 3, stale))
	require.NoError(t, r.Deliver(t.Context(), envelope(t, effects.TouchObservationReview{ObservationID: 5, UserID: 3, IdentificationID: 8})))
	review, err = store.Reviews().Get(t.Context(), 5, 3)
	require.NoError(t, err)
	assert.True(t, review.UpdatedAt.After(stale))
	assert.True(t, review.UserAdded)

	// a touch never creates a review
	require.NoError(t, r.Deliver(t.Context(), envelope(t, effects.TouchObservationReview{ObservationID: 5, UserID: 4, IdentificationID: 9})))
	_, err = store.Reviews().Get(t.Context(), 5, 4)
	assert.True(t, errors.IsNotFound(err))
}

func TestObscureCoordinates(t *testing.T) {
	t.Parallel()
	r, store := newTestReducer(t)

	lat, lng := 37.7, -122.4
	obs := &observation.Observation{UserID: 1, Latitude: &lat, Longitude: &lng}
	require.NoError(t, store.Observations().Create(t.Context(), obs))

	env := envelope(t, effects.ObscureCoordinates{ObservationID: obs.ID, TaxonID: 42})
	require.NoError(t, r.Deliver(t.Context(), env))

	got, err := store.Observations().Get(t.Context(), obs.ID)
	require.NoError(t, err)
	assert.True(t, got.CoordinatesObscured)
	assert.Nil(t, got.Latitude)
	require.NotNil(t, got.PrivateLatitude)
	assert.InDelta(t, 37.7, *got.PrivateLatitude, 1e-9)

	// already obscured: a fresh message changes nothing
	require.NoError(t, r.Deliver(t.Context(), envelope(t, effects.ObscureCoordinates{ObservationID: obs.ID, TaxonID: 42})))
	got, err = store.Observations().Get(t.Context(), obs.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PrivateLatitude)
	assert.InDelta(t, 37.7, *got.PrivateLatitude, 1e-9)
}

func TestObscureMissingObservationFails(t *testing.T) {
	t.Parallel()
	r, store := newTestReducer(t)

	env := envelope(t, effects.ObscureCoordinates{ObservationID: 999, TaxonID: 1})
	err := r.Deliver(t.Context(), env)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	// the failed attempt did not consume the message id
	fresh, err := store.Requests().MarkProcessed(t.Context(), env.MessageID, string(env.Kind))
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestListRefreshAndMentions(t *testing.T) {
	t.Parallel()
	r, store := newTestReducer(t)

	require.NoError(t, r.Deliver(t.Context(), envelope(t, effects.ListRefresh{
		UserID: 1, ObservationID: 9, RefreshKind: effects.RefreshQualityGrade, TaxonID: 144,
	})))
	require.NoError(t, r.Deliver(t.Context(), envelope(t, effects.NotifyMention{
		ObservationID: 9, IdentificationID: 31, UserID: 2,
	})))
	require.NoError(t, r.Deliver(t.Context(), envelope(t, effects.CuratorPointerChanged{ObservationID: 9, ProjectID: 1})))

	refreshes, err := store.Requests().ListRefreshes(t.Context(), 1)
	require.NoError(t, err)
	require.Len(t, refreshes, 1)
	assert.Equal(t, "quality_grade", refreshes[0].Kind)
	require.NotNil(t, refreshes[0].TaxonID)
	assert.Equal(t, uint(144), *refreshes[0].TaxonID)

	notes, err := store.Requests().ListNotifications(t.Context(), 2)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, entities.NotificationMention, notes[0].NotificationKind)
	assert.Equal(t, uint(31), notes[0].NotifierID)
}

func TestDeliverThroughDispatcher(t *testing.T) {
	t.Parallel()
	r, store := newTestReducer(t)

	records, err := effects.Encode(time.Now().UTC().Add(-time.Second),
		effects.EnsureObservationReview{ObservationID: 3, UserID: 4},
		effects.ListRefresh{UserID: 4, ObservationID: 3, RefreshKind: effects.RefreshOwnerIdentification})
	require.NoError(t, err)
	require.NoError(t, store.Outbox().Enqueue(t.Context(), records))

	d := effects.NewDispatcher(store.Outbox(), r, effects.DispatcherConfig{})
	n, err := d.Drain(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.Reviews().Get(t.Context(), 3, 4)
	require.NoError(t, err)
}
