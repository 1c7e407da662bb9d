package entities

import "time"

// OutboxStatus tracks delivery of an outbox row.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxDelivered OutboxStatus = "delivered"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxRecord is an effect waiting for delivery. It is written in the same
// transaction as the observation state that produced it.
type OutboxRecord struct {
	ID            uint         `gorm:"primaryKey"`
	MessageID     string       `gorm:"type:varchar(36);not null;uniqueIndex"`
	Kind          string       `gorm:"type:varchar(50);not null;index"`
	EffectKey     string       `gorm:"type:varchar(200);not null;index"`
	ObservationID uint         `gorm:"not null;index"`
	Payload       string       `gorm:"type:text;not null"`
	Status        OutboxStatus `gorm:"type:varchar(20);not null;index:idx_outbox_due,priority:1"`
	Attempts      int          `gorm:"not null;default:0"`
	NextAttemptAt time.Time    `gorm:"not null;index:idx_outbox_due,priority:2"`
	LastError     string       `gorm:"type:text"`
	CreatedAt     time.Time    `gorm:"autoCreateTime"`
	DeliveredAt   *time.Time
}

// TableName returns the table name for GORM.
func (OutboxRecord) TableName() string {
	return "effect_outbox"
}

// ProcessedEffect records a message id already applied by the reducer.
type ProcessedEffect struct {
	MessageID string    `gorm:"primaryKey;type:varchar(36)"`
	Kind      string    `gorm:"type:varchar(50);not null"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (ProcessedEffect) TableName() string {
	return "processed_effects"
}
