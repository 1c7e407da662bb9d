package observation

import (
	"cmp"
	"time"
)

// CaptiveFlag is the identifier's answer to "is this organism captive or cultivated".
type CaptiveFlag string

const (
	CaptiveUnknown CaptiveFlag = "unknown"
	CaptiveYes     CaptiveFlag = "yes"
	CaptiveNo      CaptiveFlag = "no"
)

// ParseCaptiveFlag maps free-form input to a flag. Anything unrecognised is unknown.
func ParseCaptiveFlag(s string) CaptiveFlag {
	switch s {
	case "yes", "true", "1":
		return CaptiveYes
	case "no", "false", "0":
		return CaptiveNo
	default:
		return CaptiveUnknown
	}
}

// Identification is one user's taxon proposal for an observation. At most one
// identification per (observation, user) is current.
type Identification struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	ObservationID uint        `gorm:"not null;index:idx_identification_obs_user,priority:1" json:"observation_id"`
	UserID        uint        `gorm:"not null;index:idx_identification_obs_user,priority:2;index" json:"user_id"`
	TaxonID       uint        `gorm:"not null;index" json:"taxon_id"`
	Current       bool        `gorm:"not null;index" json:"current"`
	Captive       CaptiveFlag `gorm:"type:varchar(10);not null" json:"captive_flag"`
	Body          string      `gorm:"type:text" json:"body"`
	Disagreement  bool        `gorm:"not null" json:"disagreement"`
	CreatedAt     time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Identification) TableName() string {
	return "identifications"
}

// CompareRecency orders identifications oldest first: by creation time, then id.
func CompareRecency(a, b *Identification) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// MostRecent returns the newest identification of the set, or nil.
func MostRecent(idents []*Identification) *Identification {
	var best *Identification
	for _, ident := range idents {
		if best == nil || CompareRecency(ident, best) > 0 {
			best = ident
		}
	}
	return best
}
