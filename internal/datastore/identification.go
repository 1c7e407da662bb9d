package datastore

import (
	"context"
	"slices"

	"gorm.io/gorm"

	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/observation"
)

// IdentificationRepository stores identifications and owns the current-flag
// state machine: for each (observation, user) at most one row is current.
type IdentificationRepository interface {
	// Get retrieves an identification by id.
	Get(ctx context.Context, id uint) (*observation.Identification, error)

	// ListByObservation returns every identification of the observation, oldest first.
	ListByObservation(ctx context.Context, observationID uint) ([]*observation.Identification, error)

	// ListCurrent returns the current identifications of the observation, oldest first.
	// Returns an InvalidState error if a user has more than one.
	ListCurrent(ctx context.Context, observationID uint) ([]*observation.Identification, error)

	// ListForUser returns one user's identifications of the observation, oldest first.
	ListForUser(ctx context.Context, observationID, userID uint) ([]*observation.Identification, error)

	// Create demotes the user's current identification, if any, and inserts
	// ident as the new current one. Returns the demoted row.
	Create(ctx context.Context, ident *observation.Identification) (demoted *observation.Identification, err error)

	// Update saves taxon, body, captive and disagreement edits. The current
	// flag is never changed by an update.
	Update(ctx context.Context, ident *observation.Identification) error

	// Delete removes an identification. When it was current, the user's most
	// recent remaining identification is promoted and returned.
	Delete(ctx context.Context, id uint) (promoted *observation.Identification, err error)
}

type identificationRepository struct {
	db *gorm.DB
}

// NewIdentificationRepository creates a new IdentificationRepository.
func NewIdentificationRepository(db *gorm.DB) IdentificationRepository {
	return &identificationRepository{db: db}
}

func (r *identificationRepository) Get(ctx context.Context, id uint) (*observation.Identification, error) {
	var ident observation.Identification
	if err := r.db.WithContext(ctx).First(&ident, id).Error; err != nil {
		return nil, lookupError(err, "identification", id)
	}
	return &ident, nil
}

// list uses map conditions so the "current" column name is always quoted.
func (r *identificationRepository) list(ctx context.Context, cond map[string]any) ([]*observation.Identification, error) {
	var idents []*observation.Identification
	err := r.db.WithContext(ctx).
		Where(cond).
		Order("created_at ASC, id ASC").
		Find(&idents).Error
	if err != nil {
		return nil, dbError(err, "list_identifications", "")
	}
	return idents, nil
}

func (r *identificationRepository) ListByObservation(ctx context.Context, observationID uint) ([]*observation.Identification, error) {
	return r.list(ctx, map[string]any{"observation_id": observationID})
}

func (r *identificationRepository) ListCurrent(ctx context.Context, observationID uint) ([]*observation.Identification, error) {
	idents, err := r.list(ctx, map[string]any{"observation_id": observationID, "current": true})
	if err != nil {
		return nil, err
	}
	if err := CheckCurrentInvariant(idents); err != nil {
		return nil, err
	}
	return idents, nil
}

func (r *identificationRepository) ListForUser(ctx context.Context, observationID, userID uint) ([]*observation.Identification, error) {
	return r.list(ctx, map[string]any{"observation_id": observationID, "user_id": userID})
}

func (r *identificationRepository) Create(ctx context.Context, ident *observation.Identification) (*observation.Identification, error) {
	if ident.ObservationID == 0 || ident.UserID == 0 || ident.TaxonID == 0 {
		return nil, validationError("identification requires observation, user and taxon", "identification", ident.ID)
	}
	if ident.Captive == "" {
		ident.Captive = observation.CaptiveUnknown
	}

	var demoted *observation.Identification
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current []*observation.Identification
		if err := tx.Where(map[string]any{"observation_id": ident.ObservationID, "user_id": ident.UserID, "current": true}).
			Find(&current).Error; err != nil {
			return dbError(err, "find_current_identification", "", "observation_id", ident.ObservationID)
		}
		if len(current) > 1 {
			return invalidCurrent(ident.ObservationID, ident.UserID, len(current))
		}
		if len(current) == 1 {
			demoted = current[0]
			if err := tx.Model(demoted).UpdateColumn("current", false).Error; err != nil {
				return dbError(err, "demote_identification", "", "identification_id", demoted.ID)
			}
			demoted.Current = false
		}

		ident.Current = true
		if err := tx.Create(ident).Error; err != nil {
			return dbError(err, "create_identification", "", "observation_id", ident.ObservationID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return demoted, nil
}

func (r *identificationRepository) Update(ctx context.Context, ident *observation.Identification) error {
	if ident.ID == 0 {
		return validationError("identification id is required", "id", ident.ID)
	}
	if ident.TaxonID == 0 {
		return validationError("identification requires a taxon", "taxon_id", ident.TaxonID)
	}
	result := r.db.WithContext(ctx).Model(&observation.Identification{ID: ident.ID}).
		Select("taxon_id", "body", "captive", "disagreement", "updated_at").
		Updates(ident)
	if result.Error != nil {
		return dbError(result.Error, "update_identification", "", "identification_id", ident.ID)
	}
	if result.RowsAffected == 0 {
		return notFoundError("identification", ident.ID)
	}
	return nil
}

func (r *identificationRepository) Delete(ctx context.Context, id uint) (*observation.Identification, error) {
	var promoted *observation.Identification
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ident observation.Identification
		if err := tx.First(&ident, id).Error; err != nil {
			return lookupError(err, "identification", id)
		}
		if err := tx.Delete(&ident).Error; err != nil {
			return dbError(err, "delete_identification", "", "identification_id", id)
		}
		if !ident.Current {
			return nil
		}

		var rest []*observation.Identification
		if err := tx.Where(map[string]any{"observation_id": ident.ObservationID, "user_id": ident.UserID}).
			Find(&rest).Error; err != nil {
			return dbError(err, "list_remaining_identifications", "", "identification_id", id)
		}
		promoted = observation.MostRecent(rest)
		if promoted == nil {
			return nil
		}
		if err := tx.Model(promoted).UpdateColumn("current", true).Error; err != nil {
			return dbError(err, "promote_identification", "", "identification_id", promoted.ID)
		}
		promoted.Current = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

// CheckCurrentInvariant returns an InvalidState error when a user holds more
// than one current identification in idents.
func CheckCurrentInvariant(idents []*observation.Identification) error {
	seen := make(map[uint]int, len(idents))
	for _, ident := range idents {
		if !ident.Current {
			continue
		}
		seen[ident.UserID]++
	}
	users := make([]uint, 0)
	for user, n := range seen {
		if n > 1 {
			users = append(users, user)
		}
	}
	if len(users) == 0 {
		return nil
	}
	slices.Sort(users)
	return invalidCurrent(idents[0].ObservationID, users[0], seen[users[0]])
}

func invalidCurrent(observationID, userID uint, count int) error {
	return errors.InvalidState("user %d has %d current identifications on observation %d", userID, count, observationID).
		Component("datastore").
		Context("observation_id", observationID).
		Context("user_id", userID).
		Build()
}
