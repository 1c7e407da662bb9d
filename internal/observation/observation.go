// Package observation defines the persisted observation, identification and
// quality metric records the consensus pipeline reads and writes.
package observation

import (
	"slices"
	"time"
)

// QualityGrade classifies how well verified an observation is.
type QualityGrade string

const (
	GradeCasual   QualityGrade = "casual"
	GradeNeedsID  QualityGrade = "needs_id"
	GradeResearch QualityGrade = "research"
)

// Valid reports whether g is one of the known grades.
func (g QualityGrade) Valid() bool {
	return slices.Contains([]QualityGrade{GradeCasual, GradeNeedsID, GradeResearch}, g)
}

// Observation is a single sighting owned by UserID. TaxonID, CommunityTaxonID,
// the two counters, QualityGrade and CoordinatesObscured are derived and only
// written by the projector pipeline.
type Observation struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"not null;index" json:"user_id"`

	TaxonID          *uint  `gorm:"index" json:"taxon_id"`
	CommunityTaxonID *uint  `gorm:"index" json:"community_taxon_id"`
	IconicTaxonID    *uint  `json:"iconic_taxon_id"`
	SpeciesGuess     string `gorm:"type:varchar(255)" json:"species_guess"`

	NumIdentificationAgreements    int          `gorm:"not null;default:0" json:"num_identification_agreements"`
	NumIdentificationDisagreements int          `gorm:"not null;default:0" json:"num_identification_disagreements"`
	QualityGrade                   QualityGrade `gorm:"type:varchar(20);not null;index" json:"quality_grade"`

	CoordinatesObscured bool     `gorm:"not null" json:"coordinates_obscured"`
	Latitude            *float64 `json:"latitude"`
	Longitude           *float64 `json:"longitude"`
	PrivateLatitude     *float64 `json:"-"`
	PrivateLongitude    *float64 `json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Observation) TableName() string {
	return "observations"
}

// Clone returns a deep copy, so a projection never aliases the snapshot it was built from.
func (o *Observation) Clone() *Observation {
	if o == nil {
		return nil
	}
	c := *o
	c.TaxonID = clonePtr(o.TaxonID)
	c.CommunityTaxonID = clonePtr(o.CommunityTaxonID)
	c.IconicTaxonID = clonePtr(o.IconicTaxonID)
	c.Latitude = clonePtr(o.Latitude)
	c.Longitude = clonePtr(o.Longitude)
	c.PrivateLatitude = clonePtr(o.PrivateLatitude)
	c.PrivateLongitude = clonePtr(o.PrivateLongitude)
	return &c
}

// Derived is the part of an observation owned by the consensus pipeline.
type Derived struct {
	TaxonID             *uint        `json:"taxon_id"`
	CommunityTaxonID    *uint        `json:"community_taxon_id"`
	Agreements          int          `json:"num_identification_agreements"`
	Disagreements       int          `json:"num_identification_disagreements"`
	QualityGrade        QualityGrade `json:"quality_grade"`
	CoordinatesObscured bool         `json:"coordinates_obscured"`
}

// Derived returns the snapshot of the pipeline-owned fields.
func (o *Observation) Derived() Derived {
	return Derived{
		TaxonID:             clonePtr(o.TaxonID),
		CommunityTaxonID:    clonePtr(o.CommunityTaxonID),
		Agreements:          o.NumIdentificationAgreements,
		Disagreements:       o.NumIdentificationDisagreements,
		QualityGrade:        o.QualityGrade,
		CoordinatesObscured: o.CoordinatesObscured,
	}
}

// Obscure hides the true position: the private columns keep it, the public
// columns are cleared. It reports whether anything changed, so a second call
// is a no-op returning false.
func (o *Observation) Obscure() bool {
	changed := !o.CoordinatesObscured
	o.CoordinatesObscured = true
	if o.Latitude != nil || o.Longitude != nil {
		o.PrivateLatitude, o.PrivateLongitude = o.Latitude, o.Longitude
		o.Latitude, o.Longitude = nil, nil
		changed = true
	}
	return changed
}

// UintPtr returns a pointer to id, or nil for zero.
func UintPtr(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}

// UintValue dereferences p, returning 0 for nil.
func UintValue(p *uint) uint {
	if p == nil {
		return 0
	}
	return *p
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
