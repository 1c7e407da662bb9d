package datastore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/idconsensus/internal/datastore/entities"
)

// ProjectRepository manages projects, memberships and curator pointers.
type ProjectRepository interface {
	Create(ctx context.Context, project *entities.Project) error

	// SetRole adds or updates a membership.
	SetRole(ctx context.Context, projectID, userID uint, role entities.ProjectRole) error

	// Roles returns every member role of the project keyed by user id.
	Roles(ctx context.Context, projectID uint) (map[uint]entities.ProjectRole, error)

	// AddObservation links an observation to a project. Linking twice is a no-op.
	AddObservation(ctx context.Context, projectID, observationID uint) error

	// ProjectObservations returns the project links of an observation.
	ProjectObservations(ctx context.Context, observationID uint) ([]entities.ProjectObservation, error)

	// GetPointer returns the curator identification id, nil when unset. A
	// missing link is a not-found error.
	GetPointer(ctx context.Context, observationID, projectID uint) (*uint, error)

	// SetPointer stores or clears (nil) the curator identification id.
	SetPointer(ctx context.Context, observationID, projectID uint, identificationID *uint) error
}

type projectRepository struct {
	db *gorm.DB
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) Create(ctx context.Context, project *entities.Project) error {
	if err := r.db.WithContext(ctx).Create(project).Error; err != nil {
		return dbError(err, "create_project", "", "title", project.Title)
	}
	return nil
}

func (r *projectRepository) SetRole(ctx context.Context, projectID, userID uint, role entities.ProjectRole) error {
	member := entities.ProjectUser{ProjectID: projectID, UserID: userID, Role: role}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(&member).Error
	if err != nil {
		return dbError(err, "set_project_role", "", "project_id", projectID, "user_id", userID)
	}
	return nil
}

func (r *projectRepository) Roles(ctx context.Context, projectID uint) (map[uint]entities.ProjectRole, error) {
	var members []entities.ProjectUser
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&members).Error; err != nil {
		return nil, dbError(err, "list_project_roles", "", "project_id", projectID)
	}
	roles := make(map[uint]entities.ProjectRole, len(members))
	for _, m := range members {
		roles[m.UserID] = m.Role
	}
	return roles, nil
}

func (r *projectRepository) AddObservation(ctx context.Context, projectID, observationID uint) error {
	link := entities.ProjectObservation{ProjectID: projectID, ObservationID: observationID}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error
	if err != nil {
		return dbError(err, "add_project_observation", "", "project_id", projectID, "observation_id", observationID)
	}
	return nil
}

func (r *projectRepository) ProjectObservations(ctx context.Context, observationID uint) ([]entities.ProjectObservation, error) {
	var links []entities.ProjectObservation
	err := r.db.WithContext(ctx).
		Where("observation_id = ?", observationID).
		Order("project_id ASC").
		Find(&links).Error
	if err != nil {
		return nil, dbError(err, "list_project_observations", "", "observation_id", observationID)
	}
	return links, nil
}

func (r *projectRepository) GetPointer(ctx context.Context, observationID, projectID uint) (*uint, error) {
	var link entities.ProjectObservation
	err := r.db.WithContext(ctx).
		Where("observation_id = ? AND project_id = ?", observationID, projectID).
		First(&link).Error
	if err != nil {
		return nil, lookupError(err, "project_observation", observationID)
	}
	return link.CuratorIdentificationID, nil
}

func (r *projectRepository) SetPointer(ctx context.Context, observationID, projectID uint, identificationID *uint) error {
	result := r.db.WithContext(ctx).Model(&entities.ProjectObservation{}).
		Where("observation_id = ? AND project_id = ?", observationID, projectID).
		UpdateColumn("curator_identification_id", identificationID)
	if result.Error != nil {
		return dbError(result.Error, "set_curator_pointer", "", "observation_id", observationID, "project_id", projectID)
	}
	if result.RowsAffected == 0 {
		return notFoundError("project_observation", observationID)
	}
	return nil
}
