package observation

import "time"

// MetricWild is the quality metric carrying the captive signal.
const MetricWild = "wild"

// QualityMetric is one user's vote on a named quality question.
type QualityMetric struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ObservationID uint      `gorm:"not null;uniqueIndex:idx_quality_metric_vote,priority:1" json:"observation_id"`
	UserID        uint      `gorm:"not null;uniqueIndex:idx_quality_metric_vote,priority:2" json:"user_id"`
	Metric        string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_quality_metric_vote,priority:3" json:"metric"`
	Agree         bool      `gorm:"not null" json:"agree"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (QualityMetric) TableName() string {
	return "quality_metrics"
}

// Tally returns the outcome of metric: agree >= disagree, or nil without votes.
func Tally(metrics []QualityMetric, metric string) *bool {
	var agree, disagree int
	for i := range metrics {
		if metrics[i].Metric != metric {
			continue
		}
		if metrics[i].Agree {
			agree++
		} else {
			disagree++
		}
	}
	if agree+disagree == 0 {
		return nil
	}
	v := agree >= disagree
	return &v
}

// IsCaptive reports whether the wild signal is set and false.
func IsCaptive(wild *bool) bool {
	return wild != nil && !*wild
}
