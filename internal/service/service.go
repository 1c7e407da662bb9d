// Package service runs the identification pipeline: it serializes work per
// observation, applies the identification change, recomputes consensus,
// projects the observation and commits state, curator pointers and effects
// in a single transaction.
package service

import (
	"context"
	"time"

	"github.com/tphakala/idconsensus/internal/datastore"
	"github.com/tphakala/idconsensus/internal/effects"
	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/logger"
	"github.com/tphakala/idconsensus/internal/observation"
	"github.com/tphakala/idconsensus/internal/taxonomy"
)

// DefaultRecomputeWorkers bounds RecomputeAll when Config leaves it zero.
const DefaultRecomputeWorkers = 4

// Operation and status labels reported to Recorder
const (
	OpCreate    = "identification_created"
	OpUpdate    = "identification_updated"
	OpDestroy   = "identification_destroyed"
	OpRecompute = "recompute"

	StatusSuccess  = "success"
	StatusNotFound = "not_found"
	StatusInvalid  = "invalid_state"
	StatusLookup   = "lookup_failure"
	StatusError    = "error"
)

// Recorder receives pipeline metrics.
type Recorder interface {
	RecordOperation(operation, status string)
	RecordDuration(operation string, seconds float64)
	RecordGradeTransition(from, to string)
}

type noopRecorder struct{}

func (noopRecorder) RecordOperation(string, string)       {}
func (noopRecorder) RecordDuration(string, float64)       {}
func (noopRecorder) RecordGradeTransition(string, string) {}

// Invalidator drops cached lineage. taxonomy.CachedTree implements it.
type Invalidator interface {
	Invalidate(id uint) int
}

// Config wires the service.
type Config struct {
	Store            *datastore.Store
	Tree             taxonomy.Tree
	Invalidator      Invalidator
	Logger           logger.Logger
	Metrics          Recorder
	RecomputeWorkers int
}

// Service is safe for concurrent use. Work on one observation is serialized;
// different observations proceed in parallel.
type Service struct {
	store   *datastore.Store
	tree    taxonomy.Tree
	inval   Invalidator
	log     logger.Logger
	metrics Recorder
	workers int
	locks   *keyedMutex
}

// New creates a service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Tree == nil {
		return nil, errors.Newf("service requires a store and a taxon tree").
			Component("service").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDiscardLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopRecorder{}
	}
	if cfg.RecomputeWorkers <= 0 {
		cfg.RecomputeWorkers = DefaultRecomputeWorkers
	}
	if cfg.Invalidator == nil {
		if inv, ok := cfg.Tree.(Invalidator); ok {
			cfg.Invalidator = inv
		}
	}
	return &Service{
		store:   cfg.Store,
		tree:    cfg.Tree,
		inval:   cfg.Invalidator,
		log:     cfg.Logger.Module("service"),
		metrics: cfg.Metrics,
		workers: cfg.RecomputeWorkers,
		locks:   newKeyedMutex(),
	}, nil
}

// NewObservation is the input of CreateObservation. A non-zero TaxonID
// creates the owner's first identification along with the observation.
type NewObservation struct {
	UserID       uint
	TaxonID      uint
	SpeciesGuess string
	Latitude     *float64
	Longitude    *float64
	Body         string
	Captive      observation.CaptiveFlag
}

// CreateObservation stores a new observation and, when a taxon is given,
// runs the owner's identification through the pipeline in the same
// transaction.
func (s *Service) CreateObservation(ctx context.Context, in NewObservation) (*observation.Observation, []effects.Effect, error) {
	if in.UserID == 0 {
		return nil, nil, validation("observation requires an owner")
	}
	tree := taxonomy.Pin(s.tree)
	if err := tree.PinLineages(ctx, in.TaxonID); err != nil {
		return nil, nil, err
	}

	var (
		obs  *observation.Observation
		effs []effects.Effect
	)
	err := s.store.Transaction(ctx, func(tx *datastore.Store) error {
		obs = &observation.Observation{
			UserID:       in.UserID,
			SpeciesGuess: in.SpeciesGuess,
			Latitude:     in.Latitude,
			Longitude:    in.Longitude,
			QualityGrade: observation.GradeCasual,
		}
		if err := tx.Observations().Create(ctx, obs); err != nil {
			return err
		}
		if in.TaxonID == 0 {
			return nil
		}

		ident := &observation.Identification{
			ObservationID: obs.ID,
			UserID:        in.UserID,
			TaxonID:       in.TaxonID,
			Body:          in.Body,
			Captive:       in.Captive,
		}
		var err error
		effs, err = s.created(ctx, tx, tree, obs, ident)
		if err != nil {
			return err
		}
		obs, err = tx.Observations().Get(ctx, obs.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.log.WithContext(ctx).Info("observation created",
		logger.Uint64("observation_id", uint64(obs.ID)),
		logger.Uint64("user_id", uint64(obs.UserID)))
	return obs, effs, nil
}

// GetObservation returns the persisted observation.
func (s *Service) GetObservation(ctx context.Context, id uint) (*observation.Observation, error) {
	return s.store.Observations().Get(ctx, id)
}

// ListIdentifications returns every identification of the observation,
// oldest first.
func (s *Service) ListIdentifications(ctx context.Context, observationID uint) ([]*observation.Identification, error) {
	if _, err := s.store.Observations().Get(ctx, observationID); err != nil {
		return nil, err
	}
	return s.store.Identifications().ListByObservation(ctx, observationID)
}

// GetIdentification returns one identification.
func (s *Service) GetIdentification(ctx context.Context, id uint) (*observation.Identification, error) {
	return s.store.Identifications().Get(ctx, id)
}

// GetCuratorPointer returns the curator identification id for the
// observation in the project, nil when unset. An observation that is not
// part of the project is NotFound.
func (s *Service) GetCuratorPointer(ctx context.Context, observationID, projectID uint) (*uint, error) {
	return s.store.Projects().GetPointer(ctx, observationID, projectID)
}

// InvalidateTaxon drops cached lineage for id and everything below it.
// Returns the number of cache entries removed.
func (s *Service) InvalidateTaxon(id uint) int {
	if s.inval == nil {
		return 0
	}
	n := s.inval.Invalidate(id)
	s.log.Info("taxon cache invalidated",
		logger.Uint64("taxon_id", uint64(id)),
		logger.Int("entries", n))
	return n
}

// observe records the outcome of op.
func (s *Service) observe(op string, start time.Time, err error) {
	s.metrics.RecordDuration(op, time.Since(start).Seconds())
	switch {
	case err == nil:
		s.metrics.RecordOperation(op, StatusSuccess)
	case errors.IsNotFound(err):
		s.metrics.RecordOperation(op, StatusNotFound)
	case errors.IsInvalidState(err):
		s.metrics.RecordOperation(op, StatusInvalid)
	case errors.IsLookupFailure(err):
		s.metrics.RecordOperation(op, StatusLookup)
	default:
		s.metrics.RecordOperation(op, StatusError)
	}
}

func validation(msg string) error {
	return errors.Newf("%s", msg).
		Component("service").
		Category(errors.CategoryValidation).
		Build()
}
