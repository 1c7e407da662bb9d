package entities

import "time"

// User is an identifier or observer. IdentificationsCount is a counter cache
// maintained by the reducer from CounterDelta effects.
type User struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	Login                string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"login"`
	IdentificationsCount int       `gorm:"not null;default:0" json:"identifications_count"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (User) TableName() string {
	return "users"
}
