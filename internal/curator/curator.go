// Package curator tracks, per project and observation, which identification
// the project's curators most recently made.
package curator

import (
	"github.com/tphakala/idconsensus/internal/datastore/entities"
	"github.com/tphakala/idconsensus/internal/observation"
)

// EventKind is an identification lifecycle transition.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventUpdated   EventKind = "updated"
	EventDemoted   EventKind = "demoted"
	EventDestroyed EventKind = "destroyed"
)

// Event is one transition seen by the tracker. Qualifies is true when the
// identification's author curates or manages the project.
type Event struct {
	Kind           EventKind
	Identification *observation.Identification
	Qualifies      bool
}

// State is the pointer for one (observation, project) pair. A nil
// IdentificationID is the unset state.
type State struct {
	ObservationID    uint  `json:"observation_id"`
	ProjectID        uint  `json:"project_id"`
	IdentificationID *uint `json:"identification_id"`
}

// IsSet reports whether the pointer references an identification.
func (s State) IsSet() bool {
	return s.IdentificationID != nil
}

// Equal compares the pointed identification.
func (s State) Equal(o State) bool {
	return observation.UintValue(s.IdentificationID) == observation.UintValue(o.IdentificationID)
}

// Next returns the pointer after ev. remaining holds the qualifying current
// identifications of the observation once ev has been applied.
//
// A new qualifying identification wins over the current pointer when it is
// more recent (created time, then id). Losing the pointed identification to a
// destroy or demotion moves the pointer to the most recent remaining one, or
// clears it. Any other event leaves the pointer alone.
func Next(state State, ev Event, remaining []*observation.Identification) State {
	if ev.Identification == nil {
		return state
	}
	next := state

	switch ev.Kind {
	case EventCreated:
		if !ev.Qualifies || !ev.Identification.Current {
			return state
		}
		best := ev.Identification
		if state.IsSet() {
			if pointed := find(remaining, *state.IdentificationID); pointed != nil && observation.CompareRecency(pointed, best) > 0 {
				best = pointed
			}
		}
		next.IdentificationID = observation.UintPtr(best.ID)

	case EventDestroyed, EventDemoted:
		if !state.IsSet() || *state.IdentificationID != ev.Identification.ID {
			return state
		}
		var pool []*observation.Identification
		for _, ident := range remaining {
			if ident.ID != ev.Identification.ID && ident.Current {
				pool = append(pool, ident)
			}
		}
		if best := observation.MostRecent(pool); best != nil {
			next.IdentificationID = observation.UintPtr(best.ID)
		} else {
			next.IdentificationID = nil
		}
	}

	return next
}

// Qualifying filters idents to the current ones whose authors can curate.
func Qualifying(idents []*observation.Identification, roles map[uint]entities.ProjectRole) []*observation.Identification {
	var out []*observation.Identification
	for _, ident := range idents {
		if ident.Current && roles[ident.UserID].CanCurate() {
			out = append(out, ident)
		}
	}
	return out
}

func find(idents []*observation.Identification, id uint) *observation.Identification {
	for _, ident := range idents {
		if ident.ID == id {
			return ident
		}
	}
	return nil
}
