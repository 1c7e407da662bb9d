package entities

// ProjectRole is a member's role within a project.
type ProjectRole string

const (
	RoleNone    ProjectRole = ""
	RoleCurator ProjectRole = "curator"
	RoleManager ProjectRole = "manager"
)

// CanCurate reports whether identifications by this role move the curator pointer.
func (r ProjectRole) CanCurate() bool {
	return r == RoleCurator || r == RoleManager
}

// Project groups observations.
type Project struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	Title string `gorm:"type:varchar(200);not null" json:"title"`
}

// TableName returns the table name for GORM.
func (Project) TableName() string {
	return "projects"
}

// ProjectUser is a project membership.
type ProjectUser struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	ProjectID uint        `gorm:"not null;uniqueIndex:idx_project_user,priority:1" json:"project_id"`
	UserID    uint        `gorm:"not null;uniqueIndex:idx_project_user,priority:2;index" json:"user_id"`
	Role      ProjectRole `gorm:"type:varchar(20)" json:"role"`
}

// TableName returns the table name for GORM.
func (ProjectUser) TableName() string {
	return "project_users"
}

// ProjectObservation links an observation to a project and carries the curator
// pointer. CuratorIdentificationID is a weak reference: it is cleared by the
// pipeline, not by a foreign key.
type ProjectObservation struct {
	ID                      uint  `gorm:"primaryKey" json:"id"`
	ProjectID               uint  `gorm:"not null;uniqueIndex:idx_project_observation,priority:1" json:"project_id"`
	ObservationID           uint  `gorm:"not null;uniqueIndex:idx_project_observation,priority:2;index" json:"observation_id"`
	CuratorIdentificationID *uint `json:"curator_identification_id"`
}

// TableName returns the table name for GORM.
func (ProjectObservation) TableName() string {
	return "project_observations"
}
