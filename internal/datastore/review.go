package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/idconsensus/internal/datastore/entities"
	"github.com/tphakala/idconsensus/internal/errors"
)

// ReviewRepository manages observation reviews.
type ReviewRepository interface {
	// Get returns the review of the observation by the user, or a not-found error.
	Get(ctx context.Context, observationID, userID uint) (*entities.ObservationReview, error)

	// Ensure creates a reviewed, non-user-added review if none exists and
	// reports whether one was created. An existing review is marked reviewed
	// and its updated_at bumped; user_added is never changed.
	Ensure(ctx context.Context, observationID, userID uint) (bool, error)

	// Touch marks an existing review reviewed as of at. A missing review is
	// not created.
	Touch(ctx context.Context, observationID, userID uint, at time.Time) error

	// MarkUserAdded records an explicit review by the user.
	MarkUserAdded(ctx context.Context, observationID, userID uint) error

	// RemoveAutomatic deletes the review unless the user added it, reporting
	// whether a row was removed.
	RemoveAutomatic(ctx context.Context, observationID, userID uint) (bool, error)
}

type reviewRepository struct {
	db *gorm.DB
}

// NewReviewRepository creates a new ReviewRepository.
func NewReviewRepository(db *gorm.DB) ReviewRepository {
	return &reviewRepository{db: db}
}

func (r *reviewRepository) Get(ctx context.Context, observationID, userID uint) (*entities.ObservationReview, error) {
	var review entities.ObservationReview
	err := r.db.WithContext(ctx).
		Where("observation_id = ? AND user_id = ?", observationID, userID).
		First(&review).Error
	if err != nil {
		return nil, lookupError(err, "observation_review", observationID)
	}
	return &review, nil
}

func (r *reviewRepository) Ensure(ctx context.Context, observationID, userID uint) (bool, error) {
	_, err := r.Get(ctx, observationID, userID)
	switch {
	case err == nil:
		return false, r.Touch(ctx, observationID, userID, time.Now().UTC())
	case !errors.IsNotFound(err):
		return false, err
	}
	review := entities.ObservationReview{ObservationID: observationID, UserID: userID, Reviewed: true}
	created, err := insertOnce(r.db.WithContext(ctx), &review, "ensure_review")
	if err != nil || created {
		return created, err
	}
	// lost an insert race; the winner's row still gets the touch
	return false, r.Touch(ctx, observationID, userID, time.Now().UTC())
}

func (r *reviewRepository) Touch(ctx context.Context, observationID, userID uint, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&entities.ObservationReview{}).
		Where("observation_id = ? AND user_id = ?", observationID, userID).
		UpdateColumns(map[string]any{"reviewed": true, "updated_at": at})
	if result.Error != nil {
		return dbError(result.Error, "touch_review", "", "observation_id", observationID, "user_id", userID)
	}
	return nil
}

func (r *reviewRepository) MarkUserAdded(ctx context.Context, observationID, userID uint) error {
	review := entities.ObservationReview{ObservationID: observationID, UserID: userID, Reviewed: true, UserAdded: true}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "observation_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reviewed", "user_added", "updated_at"}),
	}).Create(&review).Error
	if err != nil {
		return dbError(err, "mark_review_user_added", "", "observation_id", observationID, "user_id", userID)
	}
	return nil
}

func (r *reviewRepository) RemoveAutomatic(ctx context.Context, observationID, userID uint) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("observation_id = ? AND user_id = ? AND user_added = ?", observationID, userID, false).
		Delete(&entities.ObservationReview{})
	if result.Error != nil {
		return false, dbError(result.Error, "remove_review", "", "observation_id", observationID, "user_id", userID)
	}
	return result.RowsAffected > 0, nil
}
