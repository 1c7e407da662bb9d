package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/idconsensus/internal/observation"
)

// ObservationRepository provides access to the observations table.
type ObservationRepository interface {
	// Get retrieves an observation by id.
	Get(ctx context.Context, id uint) (*observation.Observation, error)

	// GetForUpdate retrieves an observation inside a transaction, taking a
	// row lock where the database supports it.
	GetForUpdate(ctx context.Context, id uint) (*observation.Observation, error)

	// Create inserts a new observation. Derived fields start empty and CASUAL.
	Create(ctx context.Context, obs *observation.Observation) error

	// SaveDerived writes the pipeline-owned fields and updated_at.
	SaveDerived(ctx context.Context, obs *observation.Observation) error

	// Touch sets updated_at.
	Touch(ctx context.Context, id uint, at time.Time) error

	// ListIDs returns observation ids greater than afterID, ascending, at most limit.
	ListIDs(ctx context.Context, afterID uint, limit int) ([]uint, error)
}

type observationRepository struct {
	db *gorm.DB
}

// NewObservationRepository creates a new ObservationRepository.
func NewObservationRepository(db *gorm.DB) ObservationRepository {
	return &observationRepository{db: db}
}

func (r *observationRepository) Get(ctx context.Context, id uint) (*observation.Observation, error) {
	var obs observation.Observation
	if err := r.db.WithContext(ctx).First(&obs, id).Error; err != nil {
		return nil, lookupError(err, "observation", id)
	}
	return &obs, nil
}

func (r *observationRepository) GetForUpdate(ctx context.Context, id uint) (*observation.Observation, error) {
	q := r.db.WithContext(ctx)
	if q.Dialector.Name() == "mysql" {
		q = q.Clauses(lockingClause())
	}
	var obs observation.Observation
	if err := q.First(&obs, id).Error; err != nil {
		return nil, lookupError(err, "observation", id)
	}
	return &obs, nil
}

func (r *observationRepository) Create(ctx context.Context, obs *observation.Observation) error {
	if obs.UserID == 0 {
		return validationError("observation requires an owner", "user_id", obs.UserID)
	}
	if obs.QualityGrade == "" {
		obs.QualityGrade = observation.GradeCasual
	}
	if err := r.db.WithContext(ctx).Create(obs).Error; err != nil {
		return dbError(err, "create_observation", "", "user_id", obs.UserID)
	}
	return nil
}

func (r *observationRepository) SaveDerived(ctx context.Context, obs *observation.Observation) error {
	obs.UpdatedAt = time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&observation.Observation{ID: obs.ID}).
		Select(
			"taxon_id", "community_taxon_id", "iconic_taxon_id", "species_guess",
			"num_identification_agreements", "num_identification_disagreements",
			"quality_grade", "coordinates_obscured",
			"latitude", "longitude", "private_latitude", "private_longitude",
			"updated_at",
		).
		Updates(obs)
	if result.Error != nil {
		return dbError(result.Error, "save_derived_state", "", "observation_id", obs.ID)
	}
	if result.RowsAffected == 0 {
		return notFoundError("observation", obs.ID)
	}
	return nil
}

func (r *observationRepository) Touch(ctx context.Context, id uint, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&observation.Observation{}).
		Where("id = ?", id).
		UpdateColumn("updated_at", at)
	if result.Error != nil {
		return dbError(result.Error, "touch_observation", "", "observation_id", id)
	}
	if result.RowsAffected == 0 {
		return notFoundError("observation", id)
	}
	return nil
}

func (r *observationRepository) ListIDs(ctx context.Context, afterID uint, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&observation.Observation{}).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, dbError(err, "list_observation_ids", "", "after_id", afterID)
	}
	return ids, nil
}
