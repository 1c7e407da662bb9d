package service

import (
	"context"

	"github.com/tphakala/idconsensus/internal/datastore"
	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/observation"
)

// recordCaptiveVote turns an identification's captive flag into a vote on
// the "wild" metric. "yes" votes not-wild. "no" only flips an existing
// not-wild vote by the same user; it never creates a vote on its own.
func recordCaptiveVote(ctx context.Context, tx *datastore.Store, ident *observation.Identification) error {
	metrics := tx.QualityMetrics()
	switch ident.Captive {
	case observation.CaptiveYes:
		return metrics.Vote(ctx, ident.ObservationID, ident.UserID, observation.MetricWild, false)
	case observation.CaptiveNo:
		existing, err := metrics.Get(ctx, ident.ObservationID, ident.UserID, observation.MetricWild)
		if errors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if existing.Agree {
			return nil
		}
		return metrics.Vote(ctx, ident.ObservationID, ident.UserID, observation.MetricWild, true)
	default:
		return nil
	}
}
