package service

import (
	"context"

	"github.com/tphakala/idconsensus/internal/curator"
	"github.com/tphakala/idconsensus/internal/datastore"
	"github.com/tphakala/idconsensus/internal/datastore/entities"
	"github.com/tphakala/idconsensus/internal/observation"
)

// trackPointers feeds events through the tracker for every project the
// observation belongs to and persists the pointers that moved.
func trackPointers(ctx context.Context, tx *datastore.Store, observationID uint, current []*observation.Identification, events []curator.Event) ([]curator.State, error) {
	return eachProject(ctx, tx, observationID, current, func(state curator.State, roles rolesByUser, remaining []*observation.Identification) curator.State {
		for _, ev := range events {
			ev.Qualifies = roles[ev.Identification.UserID].CanCurate()
			state = curator.Next(state, ev, remaining)
		}
		return state
	})
}

// rederivePointers recomputes every pointer from scratch: the most recent
// qualifying current identification, or unset.
func rederivePointers(ctx context.Context, tx *datastore.Store, observationID uint, current []*observation.Identification) ([]curator.State, error) {
	return eachProject(ctx, tx, observationID, current, func(state curator.State, _ rolesByUser, remaining []*observation.Identification) curator.State {
		state.IdentificationID = nil
		if best := observation.MostRecent(remaining); best != nil {
			state.IdentificationID = observation.UintPtr(best.ID)
		}
		return state
	})
}

type rolesByUser = map[uint]entities.ProjectRole

func eachProject(ctx context.Context, tx *datastore.Store, observationID uint, current []*observation.Identification,
	next func(state curator.State, roles rolesByUser, remaining []*observation.Identification) curator.State,
) ([]curator.State, error) {
	links, err := tx.Projects().ProjectObservations(ctx, observationID)
	if err != nil {
		return nil, err
	}

	var changed []curator.State
	for _, link := range links {
		roles, err := tx.Projects().Roles(ctx, link.ProjectID)
		if err != nil {
			return nil, err
		}
		state := curator.State{
			ObservationID:    observationID,
			ProjectID:        link.ProjectID,
			IdentificationID: link.CuratorIdentificationID,
		}
		updated := next(state, roles, curator.Qualifying(current, roles))
		if updated.Equal(state) {
			continue
		}
		if err := tx.Projects().SetPointer(ctx, observationID, link.ProjectID, updated.IdentificationID); err != nil {
			return nil, err
		}
		changed = append(changed, updated)
	}
	return changed, nil
}
