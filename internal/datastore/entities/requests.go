package entities

import "time"

// ListRefreshRequest asks downstream list workers to refresh a user's lists
// for an observation.
type ListRefreshRequest struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	ObservationID uint      `gorm:"not null;index" json:"observation_id"`
	Kind          string    `gorm:"type:varchar(40);not null" json:"kind"`
	TaxonID       *uint     `json:"taxon_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (ListRefreshRequest) TableName() string {
	return "list_refresh_requests"
}

// Notification is an update queued for a user, such as a mention.
type Notification struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"not null;index" json:"user_id"`
	NotifierType     string    `gorm:"type:varchar(40);not null" json:"notifier_type"`
	NotifierID       uint      `gorm:"not null" json:"notifier_id"`
	ObservationID    uint      `gorm:"not null;index" json:"observation_id"`
	NotificationKind string    `gorm:"type:varchar(40);not null" json:"notification"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// Notification kinds
const (
	NotificationMention = "mention"
)
