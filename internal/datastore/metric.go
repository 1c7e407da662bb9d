package datastore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/idconsensus/internal/observation"
)

// QualityMetricRepository stores quality metric votes.
type QualityMetricRepository interface {
	// ListForObservation returns all votes on the observation.
	ListForObservation(ctx context.Context, observationID uint) ([]observation.QualityMetric, error)

	// Get returns one user's vote, or a not-found error.
	Get(ctx context.Context, observationID, userID uint, metric string) (*observation.QualityMetric, error)

	// Vote records or replaces a user's vote.
	Vote(ctx context.Context, observationID, userID uint, metric string, agree bool) error
}

type qualityMetricRepository struct {
	db *gorm.DB
}

// NewQualityMetricRepository creates a new QualityMetricRepository.
func NewQualityMetricRepository(db *gorm.DB) QualityMetricRepository {
	return &qualityMetricRepository{db: db}
}

func (r *qualityMetricRepository) ListForObservation(ctx context.Context, observationID uint) ([]observation.QualityMetric, error) {
	var metrics []observation.QualityMetric
	err := r.db.WithContext(ctx).
		Where("observation_id = ?", observationID).
		Order("id ASC").
		Find(&metrics).Error
	if err != nil {
		return nil, dbError(err, "list_quality_metrics", "", "observation_id", observationID)
	}
	return metrics, nil
}

func (r *qualityMetricRepository) Get(ctx context.Context, observationID, userID uint, metric string) (*observation.QualityMetric, error) {
	var m observation.QualityMetric
	err := r.db.WithContext(ctx).
		Where("observation_id = ? AND user_id = ? AND metric = ?", observationID, userID, metric).
		First(&m).Error
	if err != nil {
		return nil, lookupError(err, "quality_metric", metric)
	}
	return &m, nil
}

func (r *qualityMetricRepository) Vote(ctx context.Context, observationID, userID uint, metric string, agree bool) error {
	m := observation.QualityMetric{
		ObservationID: observationID,
		UserID:        userID,
		Metric:        metric,
		Agree:         agree,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "observation_id"}, {Name: "user_id"}, {Name: "metric"}},
		DoUpdates: clause.AssignmentColumns([]string{"agree", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return dbError(err, "vote_quality_metric", "", "observation_id", observationID, "metric", metric)
	}
	return nil
}
