package service

import (
	"context"
	"time"

	"github.com/tphakala/idconsensus/internal/consensus"
	"github.com/tphakala/idconsensus/internal/curator"
	"github.com/tphakala/idconsensus/internal/datastore"
	"github.com/tphakala/idconsensus/internal/effects"
	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/logger"
	"github.com/tphakala/idconsensus/internal/observation"
	"github.com/tphakala/idconsensus/internal/projector"
	"github.com/tphakala/idconsensus/internal/taxonomy"
)

// OnIdentificationCreated stores ident as the author's new current
// identification, demoting the previous one, and returns the emitted effects.
func (s *Service) OnIdentificationCreated(ctx context.Context, ident *observation.Identification) (effs []effects.Effect, err error) {
	defer func(start time.Time) { s.observe(OpCreate, start, err) }(time.Now())
	if ident == nil || ident.ObservationID == 0 || ident.UserID == 0 || ident.TaxonID == 0 {
		return nil, validation("identification requires observation, user and taxon")
	}
	ident.ID = 0

	err = s.withObservation(ctx, ident.ObservationID, []uint{ident.TaxonID}, func(tx *datastore.Store, tree taxonomy.Tree, obs *observation.Observation) error {
		var err error
		effs, err = s.created(ctx, tx, tree, obs, ident)
		return err
	})
	return effs, err
}

// OnIdentificationUpdated saves edits to an identification's taxon, body,
// captive flag and disagreement flag. Current flags never change.
func (s *Service) OnIdentificationUpdated(ctx context.Context, ident *observation.Identification) (effs []effects.Effect, err error) {
	defer func(start time.Time) { s.observe(OpUpdate, start, err) }(time.Now())
	if ident == nil || ident.ID == 0 {
		return nil, validation("identification id is required")
	}
	if ident.TaxonID == 0 {
		return nil, validation("identification requires a taxon")
	}
	existing, err := s.store.Identifications().Get(ctx, ident.ID)
	if err != nil {
		return nil, err
	}

	err = s.withObservation(ctx, existing.ObservationID, []uint{ident.TaxonID}, func(tx *datastore.Store, tree taxonomy.Tree, obs *observation.Observation) error {
		var err error
		effs, err = s.updated(ctx, tx, tree, obs, ident)
		return err
	})
	return effs, err
}

// OnIdentificationDestroyed deletes an identification. When it was the
// author's current one, their most recent remaining identification becomes
// current.
func (s *Service) OnIdentificationDestroyed(ctx context.Context, ident *observation.Identification) (effs []effects.Effect, err error) {
	defer func(start time.Time) { s.observe(OpDestroy, start, err) }(time.Now())
	if ident == nil || ident.ID == 0 {
		return nil, validation("identification id is required")
	}
	existing, err := s.store.Identifications().Get(ctx, ident.ID)
	if err != nil {
		return nil, err
	}

	err = s.withObservation(ctx, existing.ObservationID, nil, func(tx *datastore.Store, tree taxonomy.Tree, obs *observation.Observation) error {
		var err error
		effs, err = s.destroyed(ctx, tx, tree, obs, ident.ID)
		return err
	})
	return effs, err
}

// withObservation locks the observation, pins every lineage the pipeline
// will need, then runs fn in a transaction holding the row. fn must resolve
// taxa through the pinned tree it is given: lineages are pinned before the
// transaction opens, so a database-backed source is never queried while the
// transaction holds the connection, even if the shared cache expires or is
// invalidated meanwhile.
func (s *Service) withObservation(ctx context.Context, observationID uint, extraTaxa []uint, fn func(tx *datastore.Store, tree taxonomy.Tree, obs *observation.Observation) error) error {
	unlock := s.locks.Lock(observationID)
	defer unlock()

	tree, err := s.warm(ctx, observationID, extraTaxa)
	if err != nil {
		return err
	}

	return s.store.Transaction(ctx, func(tx *datastore.Store) error {
		obs, err := tx.Observations().GetForUpdate(ctx, observationID)
		if err != nil {
			return err
		}
		return fn(tx, tree, obs)
	})
}

// warm pins every taxon that consensus and projection may touch: the
// lineage of each identification taxon, including the ancestors, since the
// community taxon can be any of them.
func (s *Service) warm(ctx context.Context, observationID uint, extraTaxa []uint) (*taxonomy.Pinned, error) {
	if _, err := s.store.Observations().Get(ctx, observationID); err != nil {
		return nil, err
	}
	idents, err := s.store.Identifications().ListByObservation(ctx, observationID)
	if err != nil {
		return nil, err
	}

	tree := taxonomy.Pin(s.tree)
	if err := tree.PinLineages(ctx, extraTaxa...); err != nil {
		return nil, err
	}
	for _, ident := range idents {
		if err := tree.PinLineages(ctx, ident.TaxonID); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

func (s *Service) created(ctx context.Context, tx *datastore.Store, tree taxonomy.Tree, obs *observation.Observation, ident *observation.Identification) ([]effects.Effect, error) {
	if _, err := tree.Taxon(ctx, ident.TaxonID); err != nil {
		return nil, err
	}
	before, err := tx.Identifications().ListCurrent(ctx, obs.ID)
	if err != nil {
		return nil, err
	}
	prior, err := tx.Identifications().ListForUser(ctx, obs.ID, ident.UserID)
	if err != nil {
		return nil, err
	}

	demoted, err := tx.Identifications().Create(ctx, ident)
	if err != nil {
		return nil, err
	}
	if err := recordCaptiveVote(ctx, tx, ident); err != nil {
		return nil, err
	}
	mentions, err := newMentions(ctx, tx, ident.UserID, ident.Body, "")
	if err != nil {
		return nil, err
	}

	events := []curator.Event{{Kind: curator.EventCreated, Identification: ident}}
	if demoted != nil {
		events = append(events, curator.Event{Kind: curator.EventDemoted, Identification: demoted})
	}

	return s.project(ctx, tx, tree, obs, projector.Event{
		Kind:                  projector.EventCreated,
		Identification:        ident,
		FirstByUser:           len(prior) == 0,
		UserHasIdentification: true,
		OwnerTaxonBefore:      ownerTaxon(before, obs.UserID),
	}, mentions, events)
}

func (s *Service) updated(ctx context.Context, tx *datastore.Store, tree taxonomy.Tree, obs *observation.Observation, edit *observation.Identification) ([]effects.Effect, error) {
	existing, err := tx.Identifications().Get(ctx, edit.ID)
	if err != nil {
		return nil, err
	}
	if err := ensureSameObservation(existing, obs.ID); err != nil {
		return nil, err
	}
	if _, err := tree.Taxon(ctx, edit.TaxonID); err != nil {
		return nil, err
	}
	before, err := tx.Identifications().ListCurrent(ctx, obs.ID)
	if err != nil {
		return nil, err
	}

	previousBody := existing.Body
	ident := *existing
	ident.TaxonID = edit.TaxonID
	ident.Body = edit.Body
	ident.Disagreement = edit.Disagreement
	if edit.Captive != "" {
		ident.Captive = edit.Captive
	}
	if err := tx.Identifications().Update(ctx, &ident); err != nil {
		return nil, err
	}
	if ident.Captive != existing.Captive {
		if err := recordCaptiveVote(ctx, tx, &ident); err != nil {
			return nil, err
		}
	}
	mentions, err := newMentions(ctx, tx, ident.UserID, ident.Body, previousBody)
	if err != nil {
		return nil, err
	}
	*edit = ident

	return s.project(ctx, tx, tree, obs, projector.Event{
		Kind:                  projector.EventUpdated,
		Identification:        &ident,
		UserHasIdentification: true,
		OwnerTaxonBefore:      ownerTaxon(before, obs.UserID),
	}, mentions, []curator.Event{{Kind: curator.EventUpdated, Identification: &ident}})
}

func (s *Service) destroyed(ctx context.Context, tx *datastore.Store, tree taxonomy.Tree, obs *observation.Observation, id uint) ([]effects.Effect, error) {
	existing, err := tx.Identifications().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ensureSameObservation(existing, obs.ID); err != nil {
		return nil, err
	}
	before, err := tx.Identifications().ListCurrent(ctx, obs.ID)
	if err != nil {
		return nil, err
	}

	promoted, err := tx.Identifications().Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	left, err := tx.Identifications().ListForUser(ctx, obs.ID, existing.UserID)
	if err != nil {
		return nil, err
	}

	events := []curator.Event{{Kind: curator.EventDestroyed, Identification: existing}}
	if promoted != nil {
		events = append(events, curator.Event{Kind: curator.EventCreated, Identification: promoted})
	}

	return s.project(ctx, tx, tree, obs, projector.Event{
		Kind:                  projector.EventDestroyed,
		Identification:        existing,
		UserHasIdentification: len(left) > 0,
		OwnerTaxonBefore:      ownerTaxon(before, obs.UserID),
	}, nil, events)
}

// project recomputes consensus from the persisted identifications, moves
// curator pointers, saves the projected observation and enqueues effects.
func (s *Service) project(ctx context.Context, tx *datastore.Store, tree taxonomy.Tree, obs *observation.Observation, ev projector.Event, mentions []uint, events []curator.Event) ([]effects.Effect, error) {
	current, err := tx.Identifications().ListCurrent(ctx, obs.ID)
	if err != nil {
		return nil, err
	}
	votes, err := tx.QualityMetrics().ListForObservation(ctx, obs.ID)
	if err != nil {
		return nil, err
	}

	res, err := consensus.Compute(ctx, tree, consensus.Input{
		ObservationID:   obs.ID,
		OwnerID:         obs.UserID,
		Identifications: current,
		Wild:            observation.Tally(votes, observation.MetricWild),
		Previous:        obs.Derived(),
	})
	if err != nil {
		return nil, err
	}

	var pointers []curator.State
	if ev.Kind == projector.EventRecompute {
		pointers, err = rederivePointers(ctx, tx, obs.ID, current)
	} else {
		pointers, err = trackPointers(ctx, tx, obs.ID, current, events)
	}
	if err != nil {
		return nil, err
	}

	proj, err := projector.Apply(ctx, tree, projector.Input{
		Snapshot: obs,
		Result:   res,
		Event:    ev,
		Mentions: mentions,
		Pointers: pointers,
	})
	if err != nil {
		return nil, err
	}

	if proj.Changed || ev.Kind != projector.EventRecompute {
		if err := tx.Observations().SaveDerived(ctx, proj.Observation); err != nil {
			return nil, err
		}
	}
	records, err := effects.Encode(time.Now().UTC(), proj.Effects...)
	if err != nil {
		return nil, err
	}
	if err := tx.Outbox().Enqueue(ctx, records); err != nil {
		return nil, err
	}

	if res.Previous.QualityGrade != res.QualityGrade {
		s.metrics.RecordGradeTransition(string(res.Previous.QualityGrade), string(res.QualityGrade))
	}
	s.log.WithContext(ctx).Debug("observation projected",
		logger.Uint64("observation_id", uint64(obs.ID)),
		logger.String("event", string(ev.Kind)),
		logger.Uint64("community_taxon_id", uint64(res.CommunityTaxonID)),
		logger.String("quality_grade", string(res.QualityGrade)),
		logger.Int("effects", len(proj.Effects)))
	return proj.Effects, nil
}

// ownerTaxon is the taxon of the owner's current identification, 0 for none.
func ownerTaxon(current []*observation.Identification, ownerID uint) uint {
	for _, ident := range current {
		if ident.UserID == ownerID {
			return ident.TaxonID
		}
	}
	return 0
}

// ensureSameObservation rejects an identification that moved between the
// unlocked read and the transaction.
func ensureSameObservation(ident *observation.Identification, observationID uint) error {
	if ident.ObservationID != observationID {
		return errors.InvalidState("identification %d belongs to observation %d, not %d",
			ident.ID, ident.ObservationID, observationID).
			Component("service").
			Build()
	}
	return nil
}
