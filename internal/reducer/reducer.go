// Package reducer applies delivered effects to persisted state. It is the
// local effect sink: every envelope is applied at most once, keyed by its
// message id, inside a single transaction.
package reducer

import (
	"context"
	"time"

	"github.com/tphakala/idconsensus/internal/datastore"
	"github.com/tphakala/idconsensus/internal/datastore/entities"
	"github.com/tphakala/idconsensus/internal/effects"
	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/logger"
	"github.com/tphakala/idconsensus/internal/observation"
)

// Reducer implements effects.Sink over the datastore.
type Reducer struct {
	store *datastore.Store
	log   logger.Logger
}

// New creates a reducer.
func New(store *datastore.Store, log logger.Logger) *Reducer {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Reducer{store: store, log: log.Module("reducer")}
}

func (r *Reducer) Name() string { return "reducer" }

// Deliver applies env unless its message id was applied before.
func (r *Reducer) Deliver(ctx context.Context, env effects.Envelope) error {
	eff, err := env.Effect()
	if err != nil {
		return err
	}
	log := r.log.WithContext(ctx).With(
		logger.String("message_id", env.MessageID),
		logger.String("kind", string(env.Kind)))

	return r.store.Transaction(ctx, func(tx *datastore.Store) error {
		fresh, err := tx.Requests().MarkProcessed(ctx, env.MessageID, string(env.Kind))
		if err != nil {
			return err
		}
		if !fresh {
			log.Debug("effect already applied")
			return nil
		}
		return r.apply(ctx, tx, eff, log)
	})
}

func (r *Reducer) apply(ctx context.Context, tx *datastore.Store, eff effects.Effect, log logger.Logger) error {
	switch e := eff.(type) {
	case effects.CounterDelta:
		err := tx.Users().AdjustIdentificationsCount(ctx, e.UserID, e.Delta)
		if errors.IsNotFound(err) {
			// users are owned upstream; an unknown id has no counter to keep
			log.Debug("counter delta for unknown user", logger.Uint64("user_id", uint64(e.UserID)))
			return nil
		}
		return err

	case effects.ListRefresh:
		return tx.Requests().AddListRefresh(ctx, &entities.ListRefreshRequest{
			UserID:        e.UserID,
			ObservationID: e.ObservationID,
			Kind:          string(e.RefreshKind),
			TaxonID:       observation.UintPtr(e.TaxonID),
		})

	case effects.EnsureObservationReview:
		created, err := tx.Reviews().Ensure(ctx, e.ObservationID, e.UserID)
		if err != nil {
			return err
		}
		action := "touched"
		if created {
			action = "created"
		}
		log.Debug("observation review "+action, logger.Uint64("user_id", uint64(e.UserID)))
		return nil

	case effects.TouchObservationReview:
		return tx.Reviews().Touch(ctx, e.ObservationID, e.UserID, time.Now().UTC())

	case effects.RemoveObservationReview:
		_, err := tx.Reviews().RemoveAutomatic(ctx, e.ObservationID, e.UserID)
		return err

	case effects.ObscureCoordinates:
		obs, err := tx.Observations().GetForUpdate(ctx, e.ObservationID)
		if err != nil {
			return err
		}
		if !obs.Obscure() {
			return nil
		}
		log.Info("coordinates obscured",
			logger.Uint64("observation_id", uint64(e.ObservationID)),
			logger.Uint64("taxon_id", uint64(e.TaxonID)))
		return tx.Observations().SaveDerived(ctx, obs)

	case effects.NotifyMention:
		return tx.Requests().AddNotification(ctx, &entities.Notification{
			UserID:           e.UserID,
			NotifierType:     "Identification",
			NotifierID:       e.IdentificationID,
			ObservationID:    e.ObservationID,
			NotificationKind: entities.NotificationMention,
		})

	case effects.CuratorPointerChanged:
		// the pointer itself is committed with the identification change;
		// this effect only informs broker subscribers
		return nil

	default:
		return errors.Newf("reducer cannot apply effect %T", eff).
			Component("reducer").
			Category(errors.CategoryValidation).
			Build()
	}
}
