package projector

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/idconsensus/internal/consensus"
	"github.com/tphakala/idconsensus/internal/curator"
	"github.com/tphakala/idconsensus/internal/effects"
	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/observation"
	"github.com/tphakala/idconsensus/internal/taxonomy"
	tt "github.com/tphakala/idconsensus/internal/taxonomy/taxonomytest"
)

const owner uint = 100

func snapshot() *observation.Observation {
	lat, lng := 36.1, -115.2
	return &observation.Observation{
		ID:           7,
		UserID:       owner,
		QualityGrade: observation.GradeCasual,
		SpeciesGuess: "hummingbird?",
		Latitude:     &lat,
		Longitude:    &lng,
	}
}

func kinds(effs []effects.Effect) []effects.Kind {
	out := make([]effects.Kind, len(effs))
	for i, e := range effs {
		out[i] = e.Kind()
	}
	return out
}

func TestApplyWritesDerivedFields(t *testing.T) {
	t.Parallel()

	snap := snapshot()
	ident := &observation.Identification{ID: 1, ObservationID: 7, UserID: owner, TaxonID: tt.CalypteAnna, Current: true}
	res := &consensus.Result{
		ObservationID:    7,
		CommunityTaxonID: tt.CalypteAnna,
		OwnerTaxonID:     tt.CalypteAnna,
		ResolvedTaxonID:  tt.CalypteAnna,
		QualityGrade:     observation.GradeNeedsID,
		Previous:         snap.Derived(),
	}

	p, err := Apply(t.Context(), tt.Tree(), Input{
		Snapshot: snap,
		Result:   res,
		Event:    Event{Kind: EventCreated, Identification: ident, FirstByUser: true, UserHasIdentification: true},
	})
	require.NoError(t, err)

	obs := p.Observation
	assert.Equal(t, tt.CalypteAnna, observation.UintValue(obs.TaxonID))
	assert.Equal(t, tt.CalypteAnna, observation.UintValue(obs.CommunityTaxonID))
	assert.Equal(t, tt.Aves, observation.UintValue(obs.IconicTaxonID))
	assert.Equal(t, "hummingbird?", obs.SpeciesGuess, "an existing guess is never replaced")
	assert.Equal(t, observation.GradeNeedsID, obs.QualityGrade)
	assert.True(t, p.Changed)

	// the snapshot is untouched
	assert.Nil(t, snap.TaxonID)
	assert.Equal(t, "hummingbird?", snap.SpeciesGuess)

	// owner's own identification: no counter delta
	assert.Equal(t, []effects.Kind{
		effects.KindEnsureObservationReview,
		effects.KindListRefresh,
	}, kinds(p.Effects))
	refresh, ok := p.Effects[1].(effects.ListRefresh)
	require.True(t, ok)
	assert.Equal(t, effects.RefreshOwnerIdentification, refresh.RefreshKind)
	assert.Equal(t, tt.CalypteAnna, refresh.TaxonID)
}

func TestApplyCounterDeltas(t *testing.T) {
	t.Parallel()

	other := &observation.Identification{ID: 2, ObservationID: 7, UserID: 5, TaxonID: tt.Aves, Current: true}
	res := &consensus.Result{ObservationID: 7, CommunityTaxonID: tt.Aves, ResolvedTaxonID: tt.Aves, QualityGrade: observation.GradeNeedsID}

	p, err := Apply(t.Context(), tt.Tree(), Input{
		Snapshot: snapshot(),
		Result:   res,
		Event:    Event{Kind: EventCreated, Identification: other, UserHasIdentification: true},
	})
	require.NoError(t, err)
	require.NotEmpty(t, p.Effects)
	delta, ok := p.Effects[0].(effects.CounterDelta)
	require.True(t, ok)
	assert.Equal(t, 1, delta.Delta)
	assert.Equal(t, uint(5), delta.UserID)
	assert.NotContains(t, kinds(p.Effects), effects.KindEnsureObservationReview, "not the user's first identification")
	require.Contains(t, kinds(p.Effects), effects.KindTouchObservationReview)
	touch, ok := p.Effects[1].(effects.TouchObservationReview)
	require.True(t, ok)
	assert.Equal(t, effects.TouchObservationReview{ObservationID: 7, UserID: 5, IdentificationID: 2}, touch)

	p, err = Apply(t.Context(), tt.Tree(), Input{
		Snapshot: snapshot(),
		Result:   &consensus.Result{ObservationID: 7, QualityGrade: observation.GradeCasual},
		Event:    Event{Kind: EventDestroyed, Identification: other, UserHasIdentification: false},
	})
	require.NoError(t, err)
	assert.Equal(t, []effects.Kind{effects.KindCounterDelta, effects.KindRemoveObservationReview}, kinds(p.Effects))
	assert.Equal(t, -1, p.Effects[0].(effects.CounterDelta).Delta)
	assert.Nil(t, p.Observation.TaxonID)
	assert.Nil(t, p.Observation.IconicTaxonID)
	assert.Equal(t, "hummingbird?", p.Observation.SpeciesGuess, "free text guess is kept without a taxon")
}

func TestApplySpeciesGuessFollowsOwner(t *testing.T) {
	t.Parallel()

	blank := func() *observation.Observation {
		snap := snapshot()
		snap.SpeciesGuess = ""
		return snap
	}

	// community taxon from other users leaves a blank guess alone
	other := &observation.Identification{ID: 2, ObservationID: 7, UserID: 5, TaxonID: tt.CalypteAnna, Current: true}
	p, err := Apply(t.Context(), tt.Tree(), Input{
		Snapshot: blank(),
		Result:   &consensus.Result{ObservationID: 7, CommunityTaxonID: tt.CalypteAnna, ResolvedTaxonID: tt.CalypteAnna, QualityGrade: observation.GradeNeedsID},
		Event:    Event{Kind: EventCreated, Identification: other, UserHasIdentification: true},
	})
	require.NoError(t, err)
	assert.Empty(t, p.Observation.SpeciesGuess)

	// the owner's identification fills it in
	mine := &observation.Identification{ID: 3, ObservationID: 7, UserID: owner, TaxonID: tt.CalypteAnna, Current: true}
	p, err = Apply(t.Context(), tt.Tree(), Input{
		Snapshot: blank(),
		Result: &consensus.Result{
			ObservationID:    7,
			CommunityTaxonID: tt.CalypteAnna,
			OwnerTaxonID:     tt.CalypteAnna,
			ResolvedTaxonID:  tt.CalypteAnna,
			QualityGrade:     observation.GradeNeedsID,
		},
		Event: Event{Kind: EventCreated, Identification: mine, UserHasIdentification: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "Calypte anna", p.Observation.SpeciesGuess)
}

func TestApplyDestroyKeepsReviewWhileUserHasIdentifications(t *testing.T) {
	t.Parallel()

	ident := &observation.Identification{ID: 3, ObservationID: 7, UserID: 5, TaxonID: tt.Calypte}
	p, err := Apply(t.Context(), tt.Tree(), Input{
		Snapshot: snapshot(),
		Result:   &consensus.Result{ObservationID: 7, QualityGrade: observation.GradeCasual},
		Event:    Event{Kind: EventDestroyed, Identification: ident, UserHasIdentification: true},
	})
	require.NoError(t, err)
	assert.NotContains(t, kinds(p.Effects), effects.KindRemoveObservationReview)
}

func TestApplyResearchBoundaryRefresh(t *testing.T) {
	t.Parallel()

	snap := snapshot()
	snap.QualityGrade = observation.GradeNeedsID
	ident := &observation.Identification{ID: 4, ObservationID: 7, UserID: 6, TaxonID: tt.CalypteAnna, Current: true}
	res := &consensus.Result{
		ObservationID:    7,
		CommunityTaxonID: tt.CalypteAnna,
		OwnerTaxonID:     tt.CalypteAnna,
		ResolvedTaxonID:  tt.CalypteAnna,
		Agreements:       1,
		QualityGrade:     observation.GradeResearch,
		Previous:         snap.Derived(),
	}
	p, err := Apply(t.Context(), tt.Tree(), Input{
		Snapshot: snap,
		Result:   res,
		Event:    Event{Kind: EventUpdated, Identification: ident, OwnerTaxonBefore: tt.CalypteAnna, UserHasIdentification: true},
	})
	require.NoError(t, err)
	require.Equal(t, []effects.Kind{effects.KindListRefresh}, kinds(p.Effects))
	assert.Equal(t, effects.RefreshQualityGrade, p.Effects[0].(effects.ListRefresh).RefreshKind)
	assert.Equal(t, owner, p.Effects[0].(effects.ListRefresh).UserID)
}

func TestApplyObscuresThreatenedTaxa(t *testing.T) {
	t.Parallel()

	ident := &observation.Identification{ID: 5, ObservationID: 7, UserID: owner, TaxonID: tt.GopherusAgassizii, Current: true}
	res := &consensus.Result{
		ObservationID:    7,
		CommunityTaxonID: tt.GopherusAgassizii,
		OwnerTaxonID:     tt.GopherusAgassizii,
		ResolvedTaxonID:  tt.GopherusAgassizii,
		QualityGrade:     observation.GradeNeedsID,
	}
	snap := snapshot()
	p, err := Apply(t.Context(), tt.Tree(), Input{
		Snapshot: snap,
		Result:   res,
		Event:    Event{Kind: EventCreated, Identification: ident, FirstByUser: true, UserHasIdentification: true},
	})
	require.NoError(t, err)
	assert.True(t, p.Observation.CoordinatesObscured)
	assert.Nil(t, p.Observation.Latitude)
	assert.Contains(t, kinds(p.Effects), effects.KindObscureCoordinates)
	assert.NotNil(t, snap.Latitude)

	// already obscured and then re-identified as a safe taxon: stays obscured
	obscured := p.Observation
	res = &consensus.Result{
		ObservationID:    7,
		CommunityTaxonID: tt.CalypteAnna,
		OwnerTaxonID:     tt.CalypteAnna,
		ResolvedTaxonID:  tt.CalypteAnna,
		QualityGrade:     observation.GradeNeedsID,
	}
	p, err = Apply(t.Context(), tt.Tree(), Input{
		Snapshot: obscured,
		Result:   res,
		Event:    Event{Kind: EventUpdated, Identification: ident, OwnerTaxonBefore: tt.GopherusAgassizii, UserHasIdentification: true},
	})
	require.NoError(t, err)
	assert.True(t, p.Observation.CoordinatesObscured)
	assert.NotContains(t, kinds(p.Effects), effects.KindObscureCoordinates)
}

func TestApplyMentionsAndPointers(t *testing.T) {
	t.Parallel()

	ident := &observation.Identification{ID: 9, ObservationID: 7, UserID: 5, TaxonID: tt.Aves, Current: true}
	pointer := uint(9)
	p, err := Apply(t.Context(), tt.Tree(), Input{
		Snapshot: snapshot(),
		Result:   &consensus.Result{ObservationID: 7, CommunityTaxonID: tt.Aves, ResolvedTaxonID: tt.Aves, QualityGrade: observation.GradeNeedsID},
		Event:    Event{Kind: EventUpdated, Identification: ident, UserHasIdentification: true},
		Mentions: []uint{11, 5, 11, 12},
		Pointers: []curator.State{{ObservationID: 7, ProjectID: 3, IdentificationID: &pointer}},
	})
	require.NoError(t, err)

	var mentioned []uint
	for _, e := range p.Effects {
		if m, ok := e.(effects.NotifyMention); ok {
			mentioned = append(mentioned, m.UserID)
		}
	}
	assert.Equal(t, []uint{11, 12}, mentioned, "author and duplicates are skipped")
	assert.Contains(t, kinds(p.Effects), effects.KindCuratorPointerChanged)
}

func TestApplyRecomputeIsQuiet(t *testing.T) {
	t.Parallel()

	snap := snapshot()
	snap.TaxonID = observation.UintPtr(tt.CalypteAnna)
	snap.CommunityTaxonID = observation.UintPtr(tt.CalypteAnna)
	snap.IconicTaxonID = observation.UintPtr(tt.Aves)
	snap.SpeciesGuess = "Calypte anna"
	snap.QualityGrade = observation.GradeNeedsID
	res := &consensus.Result{
		ObservationID:    7,
		CommunityTaxonID: tt.CalypteAnna,
		OwnerTaxonID:     tt.CalypteAnna,
		ResolvedTaxonID:  tt.CalypteAnna,
		QualityGrade:     observation.GradeNeedsID,
		Previous:         snap.Derived(),
	}
	p, err := Apply(t.Context(), tt.Tree(), Input{Snapshot: snap, Result: res, Event: Event{Kind: EventRecompute}})
	require.NoError(t, err)
	assert.Empty(t, p.Effects)
	assert.False(t, p.Changed)
}

func TestApplyEffectKeysAreStable(t *testing.T) {
	t.Parallel()

	ident := &observation.Identification{ID: 2, ObservationID: 7, UserID: 5, TaxonID: tt.CalypteAnna, Current: true}
	in := Input{
		Snapshot: snapshot(),
		Result:   &consensus.Result{ObservationID: 7, CommunityTaxonID: tt.CalypteAnna, ResolvedTaxonID: tt.CalypteAnna, QualityGrade: observation.GradeNeedsID},
		Event:    Event{Kind: EventCreated, Identification: ident, FirstByUser: true, UserHasIdentification: true},
		Mentions: []uint{12},
	}
	first, err := Apply(t.Context(), tt.Tree(), in)
	require.NoError(t, err)
	second, err := Apply(t.Context(), tt.Tree(), in)
	require.NoError(t, err)
	assert.Equal(t, effects.Keys(first.Effects), effects.Keys(second.Effects))
}

type brokenTree struct{}

func (brokenTree) Taxon(context.Context, uint) (*taxonomy.Taxon, error) {
	return nil, errors.LookupFailure(fmt.Errorf("taxonomy service unavailable")).Build()
}
func (brokenTree) Ancestors(context.Context, uint) ([]uint, error)  { return nil, nil }
func (brokenTree) Rank(context.Context, uint) (float64, error)      { return 0, nil }
func (brokenTree) IsThreatened(context.Context, uint) (bool, error) { return false, nil }

func TestApplyLookupFailure(t *testing.T) {
	t.Parallel()

	ident := &observation.Identification{ID: 2, ObservationID: 7, UserID: 5, TaxonID: tt.CalypteAnna, Current: true}
	p, err := Apply(t.Context(), brokenTree{}, Input{
		Snapshot: snapshot(),
		Result:   &consensus.Result{ObservationID: 7, ResolvedTaxonID: tt.CalypteAnna, QualityGrade: observation.GradeNeedsID},
		Event:    Event{Kind: EventCreated, Identification: ident},
	})
	require.Error(t, err)
	assert.Nil(t, p)
	assert.True(t, errors.IsLookupFailure(err))
}

func TestApplyRejectsIncompleteInput(t *testing.T) {
	t.Parallel()

	_, err := Apply(t.Context(), tt.Tree(), Input{})
	assert.True(t, errors.IsInvalidState(err))

	_, err = Apply(t.Context(), tt.Tree(), Input{
		Snapshot: snapshot(),
		Result:   &consensus.Result{},
		Event:    Event{Kind: EventCreated},
	})
	assert.True(t, errors.IsInvalidState(err))
}
