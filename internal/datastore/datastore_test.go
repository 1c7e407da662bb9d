package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/idconsensus/internal/conf"
	"github.com/tphakala/idconsensus/internal/datastore/entities"
	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/observation"
	"github.com/tphakala/idconsensus/internal/taxonomy/taxonomytest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mgr, err := NewSQLiteManager(SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize(t.Context()))
	t.Cleanup(func() { _ = mgr.Close() })

	return NewStore(mgr.DB())
}

func seedObservation(t *testing.T, s *Store, owner uint) *observation.Observation {
	t.Helper()
	obs := &observation.Observation{UserID: owner}
	require.NoError(t, s.Observations().Create(t.Context(), obs))
	return obs
}

func identAt(obsID, userID, taxonID uint, at time.Time) *observation.Identification {
	return &observation.Identification{
		ObservationID: obsID,
		UserID:        userID,
		TaxonID:       taxonID,
		CreatedAt:     at,
	}
}

func currentCount(t *testing.T, s *Store, obsID, userID uint) int {
	t.Helper()
	idents, err := s.Identifications().ListForUser(t.Context(), obsID, userID)
	require.NoError(t, err)
	n := 0
	for _, i := range idents {
		if i.Current {
			n++
		}
	}
	return n
}

func TestIdentificationCreateDemotesPrevious(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	obs := seedObservation(t, s, 1)
	repo := s.Identifications()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	first := identAt(obs.ID, 2, taxonomytest.Calypte, base)
	demoted, err := repo.Create(ctx, first)
	require.NoError(t, err)
	assert.Nil(t, demoted)
	assert.True(t, first.Current)
	assert.Equal(t, observation.CaptiveUnknown, first.Captive)

	second := identAt(obs.ID, 2, taxonomytest.CalypteAnna, base.Add(time.Minute))
	demoted, err = repo.Create(ctx, second)
	require.NoError(t, err)
	require.NotNil(t, demoted)
	assert.Equal(t, first.ID, demoted.ID)
	assert.False(t, demoted.Current)

	assert.Equal(t, 1, currentCount(t, s, obs.ID, 2))

	current, err := repo.ListCurrent(ctx, obs.ID)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, second.ID, current[0].ID)
}

func TestIdentificationCreateRequiresFields(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Identifications().Create(t.Context(), &observation.Identification{ObservationID: 1, UserID: 2})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestIdentificationDeletePromotesMostRecent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	obs := seedObservation(t, s, 1)
	repo := s.Identifications()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	oldest := identAt(obs.ID, 2, taxonomytest.Aves, base)
	middle := identAt(obs.ID, 2, taxonomytest.Calypte, base.Add(time.Minute))
	newest := identAt(obs.ID, 2, taxonomytest.CalypteAnna, base.Add(2*time.Minute))
	for _, i := range []*observation.Identification{oldest, middle, newest} {
		_, err := repo.Create(ctx, i)
		require.NoError(t, err)
	}

	promoted, err := repo.Delete(ctx, newest.ID)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, middle.ID, promoted.ID)
	assert.Equal(t, 1, currentCount(t, s, obs.ID, 2))

	// deleting a non-current identification promotes nothing
	promoted, err = repo.Delete(ctx, oldest.ID)
	require.NoError(t, err)
	assert.Nil(t, promoted)

	promoted, err = repo.Delete(ctx, middle.ID)
	require.NoError(t, err)
	assert.Nil(t, promoted)

	rest, err := repo.ListForUser(ctx, obs.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, rest)

	_, err = repo.Delete(ctx, middle.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestIdentificationUpdateKeepsCurrentFlag(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	obs := seedObservation(t, s, 1)
	repo := s.Identifications()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	old := identAt(obs.ID, 2, taxonomytest.Aves, base)
	_, err := repo.Create(ctx, old)
	require.NoError(t, err)
	_, err = repo.Create(ctx, identAt(obs.ID, 2, taxonomytest.Calypte, base.Add(time.Minute)))
	require.NoError(t, err)

	// try to sneak the flag back on through an update
	edit := *old
	edit.Current = true
	edit.Body = "actually a hummingbird"
	edit.Captive = observation.CaptiveYes
	require.NoError(t, repo.Update(ctx, &edit))

	got, err := repo.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, got.Current)
	assert.Equal(t, "actually a hummingbird", got.Body)
	assert.Equal(t, observation.CaptiveYes, got.Captive)
	assert.Equal(t, 1, currentCount(t, s, obs.ID, 2))

	err = repo.Update(ctx, &observation.Identification{ID: 9999, TaxonID: taxonomytest.Aves})
	assert.True(t, errors.IsNotFound(err))
}

func TestListCurrentRejectsDoubleCurrent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	obs := seedObservation(t, s, 1)

	// bypass the repository to corrupt the table
	for _, taxon := range []uint{taxonomytest.Aves, taxonomytest.Calypte} {
		row := identAt(obs.ID, 2, taxon, time.Now())
		row.Current = true
		row.Captive = observation.CaptiveUnknown
		require.NoError(t, s.DB().Create(row).Error)
	}

	_, err := s.Identifications().ListCurrent(ctx, obs.ID)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))

	_, err = s.Identifications().Create(ctx, identAt(obs.ID, 2, taxonomytest.CalypteAnna, time.Now()))
	assert.True(t, errors.IsInvalidState(err))
}

func TestTransactionRollsBack(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	obs := seedObservation(t, s, 1)

	sentinel := errors.NewStd("abort")
	err := s.Transaction(ctx, func(tx *Store) error {
		if _, err := tx.Identifications().Create(ctx, identAt(obs.ID, 2, taxonomytest.Aves, time.Now())); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	idents, err := s.Identifications().ListByObservation(ctx, obs.ID)
	require.NoError(t, err)
	assert.Empty(t, idents)
}

func TestObservationSaveDerivedAndTouch(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	obs := seedObservation(t, s, 1)
	assert.Equal(t, observation.GradeCasual, obs.QualityGrade)

	obs.TaxonID = observation.UintPtr(taxonomytest.CalypteAnna)
	obs.CommunityTaxonID = observation.UintPtr(taxonomytest.CalypteAnna)
	obs.NumIdentificationAgreements = 2
	obs.QualityGrade = observation.GradeResearch
	obs.SpeciesGuess = "Calypte anna"
	require.NoError(t, s.Observations().SaveDerived(ctx, obs))

	got, err := s.Observations().Get(ctx, obs.ID)
	require.NoError(t, err)
	assert.Equal(t, observation.GradeResearch, got.QualityGrade)
	assert.Equal(t, taxonomytest.CalypteAnna, observation.UintValue(got.CommunityTaxonID))
	assert.Equal(t, 2, got.NumIdentificationAgreements)

	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Observations().Touch(ctx, obs.ID, at))
	got, err = s.Observations().Get(ctx, obs.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(at))

	assert.True(t, errors.IsNotFound(s.Observations().Touch(ctx, 4242, at)))
	_, err = s.Observations().Get(ctx, 4242)
	assert.True(t, errors.IsNotFound(err))
}

func TestObservationListIDsPages(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	for range 5 {
		seedObservation(t, s, 1)
	}

	first, err := s.Observations().ListIDs(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	rest, err := s.Observations().ListIDs(ctx, first[2], 3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestQualityMetricVoteReplaces(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	repo := s.QualityMetrics()

	require.NoError(t, repo.Vote(ctx, 1, 2, observation.MetricWild, false))
	require.NoError(t, repo.Vote(ctx, 1, 2, observation.MetricWild, true))
	require.NoError(t, repo.Vote(ctx, 1, 3, observation.MetricWild, false))

	metrics, err := repo.ListForObservation(ctx, 1)
	require.NoError(t, err)
	require.Len(t, metrics, 2)

	m, err := repo.Get(ctx, 1, 2, observation.MetricWild)
	require.NoError(t, err)
	assert.True(t, m.Agree)

	_, err = repo.Get(ctx, 1, 9, observation.MetricWild)
	assert.True(t, errors.IsNotFound(err))
}

func TestReviewLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	repo := s.Reviews()

	created, err := repo.Ensure(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Ensure(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, created)

	removed, err := repo.RemoveAutomatic(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, removed)

	require.NoError(t, repo.MarkUserAdded(ctx, 1, 3))
	removed, err = repo.RemoveAutomatic(ctx, 1, 3)
	require.NoError(t, err)
	assert.False(t, removed, "user-added reviews are never removed automatically")

	review, err := repo.Get(ctx, 1, 3)
	require.NoError(t, err)
	assert.True(t, review.UserAdded)
}

func TestEnsureTouchesExistingReview(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	repo := s.Reviews()
	stale := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.MarkUserAdded(ctx, 1, 3))
	require.NoError(t, repo.Touch(ctx, 1, 3, stale))
	review, err := repo.Get(ctx, 1, 3)
	require.NoError(t, err)
	require.True(t, review.UpdatedAt.Equal(stale))

	created, err := repo.Ensure(ctx, 1, 3)
	require.NoError(t, err)
	assert.False(t, created)

	review, err = repo.Get(ctx, 1, 3)
	require.NoError(t, err)
	assert.True(t, review.UpdatedAt.After(stale))
	assert.True(t, review.Reviewed)
	assert.True(t, review.UserAdded, "ensure never clears user_added")

	// touching a review that does not exist creates nothing
	require.NoError(t, repo.Touch(ctx, 1, 99, stale))
	_, err = repo.Get(ctx, 1, 99)
	assert.True(t, errors.IsNotFound(err))
}

func TestUserLoginsAndCounter(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	repo := s.Users()

	alice := &entities.User{Login: "Alice"}
	bob := &entities.User{Login: "bob"}
	require.NoError(t, repo.Create(ctx, alice))
	require.NoError(t, repo.Create(ctx, bob))
	assert.True(t, errors.IsValidation(repo.Create(ctx, &entities.User{Login: "  "})))

	users, err := repo.FindByLogins(ctx, []string{"alice", "BOB", "carol"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, alice.ID, users[0].ID)

	require.NoError(t, repo.AdjustIdentificationsCount(ctx, alice.ID, 1))
	require.NoError(t, repo.AdjustIdentificationsCount(ctx, alice.ID, -1))
	require.NoError(t, repo.AdjustIdentificationsCount(ctx, alice.ID, -1))
	got, err := repo.Get(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.IdentificationsCount)

	assert.True(t, errors.IsNotFound(repo.AdjustIdentificationsCount(ctx, 999, 1)))
}

func TestNormalizeLogin(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "kueda", NormalizeLogin("KuEdA"))
	assert.Equal(t, "a-b_c9", NormalizeLogin("A-B_c9"))
	assert.Empty(t, NormalizeLogin(""))
}

func TestProjectPointer(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	repo := s.Projects()

	project := &entities.Project{Title: "Hummingbirds of California"}
	require.NoError(t, repo.Create(ctx, project))
	require.NoError(t, repo.SetRole(ctx, project.ID, 7, entities.RoleCurator))
	require.NoError(t, repo.SetRole(ctx, project.ID, 7, entities.RoleManager))
	require.NoError(t, repo.AddObservation(ctx, project.ID, 10))
	require.NoError(t, repo.AddObservation(ctx, project.ID, 10))

	roles, err := repo.Roles(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.RoleManager, roles[7])

	ptr, err := repo.GetPointer(ctx, 10, project.ID)
	require.NoError(t, err)
	assert.Nil(t, ptr)

	require.NoError(t, repo.SetPointer(ctx, 10, project.ID, observation.UintPtr(55)))
	ptr, err = repo.GetPointer(ctx, 10, project.ID)
	require.NoError(t, err)
	require.NotNil(t, ptr)
	assert.Equal(t, uint(55), *ptr)

	require.NoError(t, repo.SetPointer(ctx, 10, project.ID, nil))
	ptr, err = repo.GetPointer(ctx, 10, project.ID)
	require.NoError(t, err)
	assert.Nil(t, ptr)

	_, err = repo.GetPointer(ctx, 11, project.ID)
	assert.True(t, errors.IsNotFound(err))

	links, err := repo.ProjectObservations(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestTaxonRepositoryRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	repo := s.Taxa()

	n, err := repo.Upsert(ctx, taxonomytest.Taxa())
	require.NoError(t, err)
	assert.Equal(t, len(taxonomytest.Taxa()), n)

	// upserting again replaces rather than duplicates
	_, err = repo.Upsert(ctx, taxonomytest.Taxa())
	require.NoError(t, err)
	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(n), count)

	anna, err := repo.Fetch(ctx, taxonomytest.CalypteAnna)
	require.NoError(t, err)
	assert.Equal(t, "Calypte anna", anna.Name)
	assert.Equal(t, taxonomytest.Calypte, anna.ParentID())
	assert.Equal(t, taxonomytest.Life, anna.AncestorIDs[0])
	assert.Equal(t, taxonomytest.Aves, anna.IconicTaxonID)

	tortoise, err := repo.Fetch(ctx, taxonomytest.GopherusAgassizii)
	require.NoError(t, err)
	assert.True(t, tortoise.Threatened)

	below, err := repo.Descendants(ctx, taxonomytest.Calypte)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{taxonomytest.CalypteAnna, taxonomytest.CalypteCostae}, below)

	_, err = repo.Fetch(ctx, 123456789)
	assert.True(t, errors.IsNotFound(err))
}

func TestOutboxLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	repo := s.Outbox()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	records := []entities.OutboxRecord{
		{MessageID: "m-1", Kind: "counter_delta", EffectKey: "k1", ObservationID: 1, Payload: "{}", Status: entities.OutboxPending, NextAttemptAt: now},
		{MessageID: "m-2", Kind: "list_refresh", EffectKey: "k2", ObservationID: 1, Payload: "{}", Status: entities.OutboxPending, NextAttemptAt: now.Add(time.Hour)},
	}
	require.NoError(t, repo.Enqueue(ctx, records))

	due, err := repo.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "m-1", due[0].MessageID)

	require.NoError(t, repo.MarkRetry(ctx, due[0].ID, 1, now.Add(time.Minute), "broker down"))
	due, err = repo.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = repo.Due(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)

	require.NoError(t, repo.MarkDelivered(ctx, due[0].ID, now))
	require.NoError(t, repo.MarkFailed(ctx, due[1].ID, 8, "gave up"))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutboxStats{Delivered: 1, Failed: 1}, stats)

	n, err := repo.Requeue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	byObs, err := repo.ListByObservation(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, byObs, 2)

	assert.True(t, errors.IsNotFound(repo.MarkDelivered(ctx, 999, now)))
}

func TestMarkProcessedOnce(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	repo := s.Requests()

	first, err := repo.MarkProcessed(ctx, "msg-1", "counter_delta")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := repo.MarkProcessed(ctx, "msg-1", "counter_delta")
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, repo.AddNotification(ctx, &entities.Notification{
		UserID: 3, NotifierType: "Identification", NotifierID: 4, ObservationID: 1, NotificationKind: entities.NotificationMention,
	}))
	ns, err := repo.ListNotifications(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, ns, 1)
}

func TestNewManagerRejectsUnknownType(t *testing.T) {
	t.Parallel()
	_, err := NewManager(&conf.DatabaseSettings{Type: "postgres"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}
