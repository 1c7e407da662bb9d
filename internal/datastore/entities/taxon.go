package entities

import "time"

// TaxonRecord is a row of the local taxa table. AncestryPath stores the
// ancestor ids root first, slash separated, excluding the taxon itself.
type TaxonRecord struct {
	ID            uint    `gorm:"primaryKey;autoIncrement:false"`
	Name          string  `gorm:"type:varchar(255);not null;index"`
	Rank          string  `gorm:"type:varchar(30);not null"`
	RankLevel     float64 `gorm:"not null"`
	ParentID      *uint   `gorm:"index"`
	AncestryPath  string  `gorm:"type:varchar(1000)"`
	Threatened    bool    `gorm:"not null"`
	IconicTaxonID *uint
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (TaxonRecord) TableName() string {
	return "taxa"
}
