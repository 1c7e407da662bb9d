package service

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/idconsensus/internal/datastore"
	"github.com/tphakala/idconsensus/internal/effects"
	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/logger"
	"github.com/tphakala/idconsensus/internal/observation"
	"github.com/tphakala/idconsensus/internal/projector"
	"github.com/tphakala/idconsensus/internal/taxonomy"
)

const recomputePageSize = 500

// Recompute re-derives the observation from its persisted identifications.
// It emits no counter deltas or review effects; running it twice in a row
// changes nothing the second time.
func (s *Service) Recompute(ctx context.Context, observationID uint) (effs []effects.Effect, err error) {
	defer func(start time.Time) { s.observe(OpRecompute, start, err) }(time.Now())

	err = s.withObservation(ctx, observationID, nil, func(tx *datastore.Store, tree taxonomy.Tree, obs *observation.Observation) error {
		var err error
		effs, err = s.project(ctx, tx, tree, obs, projector.Event{Kind: projector.EventRecompute}, nil, nil)
		return err
	})
	return effs, err
}

// RecomputeStats summarizes a RecomputeAll run.
type RecomputeStats struct {
	Observations int64         `json:"observations"`
	Failed       int64         `json:"failed"`
	Effects      int64         `json:"effects"`
	Duration     time.Duration `json:"duration"`
}

// RecomputeAll recomputes every observation with bounded parallelism. A
// failing observation is logged and counted; the run continues.
func (s *Service) RecomputeAll(ctx context.Context) (RecomputeStats, error) {
	start := time.Now()
	var done, failed, emitted atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	var after uint
	for {
		ids, err := s.store.Observations().ListIDs(gctx, after, recomputePageSize)
		if err != nil {
			_ = g.Wait()
			return RecomputeStats{}, err
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			g.Go(func() error {
				effs, err := s.Recompute(gctx, id)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					failed.Add(1)
					s.log.Warn("recompute failed",
						logger.Uint64("observation_id", uint64(id)),
						logger.Error(err))
					return nil
				}
				done.Add(1)
				emitted.Add(int64(len(effs)))
				return nil
			})
		}
		after = ids[len(ids)-1]
	}

	err := g.Wait()
	stats := RecomputeStats{
		Observations: done.Load(),
		Failed:       failed.Load(),
		Effects:      emitted.Load(),
		Duration:     time.Since(start),
	}
	if err != nil {
		return stats, errors.New(err).
			Component("service").
			Context("recomputed", stats.Observations).
			Build()
	}
	s.log.Info("recompute finished",
		logger.Int64("observations", stats.Observations),
		logger.Int64("failed", stats.Failed),
		logger.Int64("effects", stats.Effects),
		logger.Duration("duration", stats.Duration))
	return stats, nil
}
