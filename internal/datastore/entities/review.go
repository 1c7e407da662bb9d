package entities

import "time"

// ObservationReview marks that a user has looked at an observation. UserAdded
// reviews were created explicitly and are never removed by the pipeline.
type ObservationReview struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ObservationID uint      `gorm:"not null;uniqueIndex:idx_observation_review,priority:1" json:"observation_id"`
	UserID        uint      `gorm:"not null;uniqueIndex:idx_observation_review,priority:2" json:"user_id"`
	Reviewed      bool      `gorm:"not null" json:"reviewed"`
	UserAdded     bool      `gorm:"not null" json:"user_added"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (ObservationReview) TableName() string {
	return "observation_reviews"
}
