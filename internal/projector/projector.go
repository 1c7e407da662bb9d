// Package projector turns a consensus result into the next observation state
// and the list of effects that follow from the change.
package projector

import (
	"context"

	"github.com/tphakala/idconsensus/internal/consensus"
	"github.com/tphakala/idconsensus/internal/curator"
	"github.com/tphakala/idconsensus/internal/effects"
	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/observation"
	"github.com/tphakala/idconsensus/internal/taxonomy"
)

// EventKind names what triggered the projection.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventUpdated   EventKind = "updated"
	EventDestroyed EventKind = "destroyed"
	// EventRecompute re-derives state without an identification change.
	EventRecompute EventKind = "recompute"
)

// Event describes the identification change behind a projection.
type Event struct {
	Kind           EventKind
	Identification *observation.Identification
	// FirstByUser is true when the author had no identification on the
	// observation before this one.
	FirstByUser bool
	// UserHasIdentification is true when the author still has at least one
	// identification on the observation after the event.
	UserHasIdentification bool
	// OwnerTaxonBefore is the owner's current identification taxon before
	// the event, 0 for none.
	OwnerTaxonBefore uint
}

// Input is the snapshot, the fresh consensus and the event that caused it.
type Input struct {
	Snapshot *observation.Observation
	Result   *consensus.Result
	Event    Event
	// Mentions are user ids newly mentioned by the identification body.
	Mentions []uint
	// Pointers are curator pointers that moved because of the event.
	Pointers []curator.State
}

// Projection is the observation to persist and the effects to enqueue.
type Projection struct {
	Observation *observation.Observation
	Effects     []effects.Effect
	// Changed is true when any pipeline-owned field differs from the snapshot.
	Changed bool
}

// Apply computes the projection. It never modifies in.Snapshot; a lookup
// failure returns the error and no projection.
func Apply(ctx context.Context, tree taxonomy.Tree, in Input) (*Projection, error) {
	if in.Snapshot == nil || in.Result == nil {
		return nil, errors.InvalidState("projection needs an observation snapshot and a consensus result").
			Component("projector").
			Build()
	}
	if in.Event.Kind != EventRecompute && in.Event.Identification == nil {
		return nil, errors.InvalidState("%s event without an identification", in.Event.Kind).
			Component("projector").
			Context("observation_id", in.Snapshot.ID).
			Build()
	}

	before := in.Snapshot.Derived()
	obs := in.Snapshot.Clone()
	res := in.Result

	obs.TaxonID = observation.UintPtr(res.ResolvedTaxonID)
	obs.CommunityTaxonID = observation.UintPtr(res.CommunityTaxonID)
	obs.NumIdentificationAgreements = res.Agreements
	obs.NumIdentificationDisagreements = res.Disagreements
	obs.QualityGrade = res.QualityGrade

	b := &builder{seen: map[string]bool{}}
	ident := in.Event.Identification

	if res.ResolvedTaxonID == 0 {
		obs.IconicTaxonID = nil
	} else {
		taxon, err := tree.Taxon(ctx, res.ResolvedTaxonID)
		if err != nil {
			return nil, err
		}
		// the guess is the owner's; only their own identification fills a blank one
		if res.OwnerTaxonID != 0 && obs.SpeciesGuess == "" {
			obs.SpeciesGuess = taxon.Name
		}
		obs.IconicTaxonID = observation.UintPtr(taxon.IconicTaxonID)

		threatened, err := tree.IsThreatened(ctx, res.ResolvedTaxonID)
		if err != nil {
			return nil, err
		}
		// obscuration is one way; nothing here reveals coordinates again
		if threatened && !obs.CoordinatesObscured {
			obs.Obscure()
			b.add(effects.ObscureCoordinates{ObservationID: obs.ID, TaxonID: res.ResolvedTaxonID})
		}
	}

	if ident != nil && ident.UserID != obs.UserID {
		switch in.Event.Kind {
		case EventCreated:
			b.add(effects.CounterDelta{UserID: ident.UserID, ObservationID: obs.ID, IdentificationID: ident.ID, Delta: 1})
		case EventDestroyed:
			b.add(effects.CounterDelta{UserID: ident.UserID, ObservationID: obs.ID, IdentificationID: ident.ID, Delta: -1})
		}
	}

	switch in.Event.Kind {
	case EventCreated:
		switch {
		case !ident.Current:
		case in.Event.FirstByUser:
			b.add(effects.EnsureObservationReview{ObservationID: obs.ID, UserID: ident.UserID})
		default:
			b.add(effects.TouchObservationReview{ObservationID: obs.ID, UserID: ident.UserID, IdentificationID: ident.ID})
		}
	case EventDestroyed:
		if !in.Event.UserHasIdentification {
			b.add(effects.RemoveObservationReview{ObservationID: obs.ID, UserID: ident.UserID})
		}
	}

	if res.GradeChanged() {
		b.add(effects.ListRefresh{
			UserID:        obs.UserID,
			ObservationID: obs.ID,
			RefreshKind:   effects.RefreshQualityGrade,
			TaxonID:       res.ResolvedTaxonID,
		})
	}
	if in.Event.Kind != EventRecompute && in.Event.OwnerTaxonBefore != res.OwnerTaxonID {
		b.add(effects.ListRefresh{
			UserID:        obs.UserID,
			ObservationID: obs.ID,
			RefreshKind:   effects.RefreshOwnerIdentification,
			TaxonID:       res.OwnerTaxonID,
		})
	}

	if ident != nil {
		for _, userID := range in.Mentions {
			if userID == 0 || userID == ident.UserID {
				continue
			}
			b.add(effects.NotifyMention{ObservationID: obs.ID, IdentificationID: ident.ID, UserID: userID})
		}
	}

	for _, p := range in.Pointers {
		b.add(effects.CuratorPointerChanged{
			ObservationID:    p.ObservationID,
			ProjectID:        p.ProjectID,
			IdentificationID: p.IdentificationID,
		})
	}

	return &Projection{
		Observation: obs,
		Effects:     b.effects,
		Changed:     !sameDerived(before, obs.Derived()),
	}, nil
}

type builder struct {
	effects []effects.Effect
	seen    map[string]bool
}

// add appends e unless an effect with the same key is already present.
func (b *builder) add(e effects.Effect) {
	if b.seen[e.Key()] {
		return
	}
	b.seen[e.Key()] = true
	b.effects = append(b.effects, e)
}

func sameDerived(a, b observation.Derived) bool {
	return observation.UintValue(a.TaxonID) == observation.UintValue(b.TaxonID) &&
		observation.UintValue(a.CommunityTaxonID) == observation.UintValue(b.CommunityTaxonID) &&
		a.Agreements == b.Agreements &&
		a.Disagreements == b.Disagreements &&
		a.QualityGrade == b.QualityGrade &&
		a.CoordinatesObscured == b.CoordinatesObscured
}
