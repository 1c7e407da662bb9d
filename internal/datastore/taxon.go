package datastore

import (
	"context"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/idconsensus/internal/datastore/entities"
	"github.com/tphakala/idconsensus/internal/observation"
	"github.com/tphakala/idconsensus/internal/taxonomy"
)

const (
	ancestrySeparator = "/"
	// upsertBatchSize keeps bulk inserts under SQLite's bound parameter limit
	upsertBatchSize = 200
)

// TaxonRepository is the local taxa table. It implements taxonomy.Source.
type TaxonRepository struct {
	db *gorm.DB
}

var _ taxonomy.Source = (*TaxonRepository)(nil)

// NewTaxonRepository creates a new TaxonRepository.
func NewTaxonRepository(db *gorm.DB) *TaxonRepository {
	return &TaxonRepository{db: db}
}

// Fetch loads one taxon with its ancestor chain.
func (r *TaxonRepository) Fetch(ctx context.Context, id uint) (*taxonomy.Taxon, error) {
	var rec entities.TaxonRecord
	if err := r.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, lookupError(err, "taxon", id)
	}
	ancestors, err := parseAncestry(rec.AncestryPath)
	if err != nil {
		return nil, dbError(err, "parse_ancestry", "", "taxon_id", id)
	}
	return &taxonomy.Taxon{
		ID:            rec.ID,
		Name:          rec.Name,
		Rank:          rec.Rank,
		RankLevel:     rec.RankLevel,
		AncestorIDs:   ancestors,
		Threatened:    rec.Threatened,
		IconicTaxonID: observation.UintValue(rec.IconicTaxonID),
	}, nil
}

// Upsert inserts or replaces taxa, returning the number of rows written.
func (r *TaxonRepository) Upsert(ctx context.Context, taxa []taxonomy.Taxon) (int, error) {
	if len(taxa) == 0 {
		return 0, nil
	}
	records := make([]entities.TaxonRecord, 0, len(taxa))
	for i := range taxa {
		t := &taxa[i]
		if err := t.Validate(); err != nil {
			return 0, err
		}
		records = append(records, entities.TaxonRecord{
			ID:            t.ID,
			Name:          t.Name,
			Rank:          t.Rank,
			RankLevel:     t.RankLevel,
			ParentID:      observation.UintPtr(t.ParentID()),
			AncestryPath:  formatAncestry(t.AncestorIDs),
			Threatened:    t.Threatened,
			IconicTaxonID: observation.UintPtr(t.IconicTaxonID),
		})
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "rank", "rank_level", "parent_id", "ancestry_path",
			"threatened", "iconic_taxon_id", "updated_at",
		}),
	}).CreateInBatches(&records, upsertBatchSize).Error
	if err != nil {
		return 0, dbError(err, "upsert_taxa", "", "count", len(records))
	}
	return len(records), nil
}

// Descendants returns the ids of every taxon below id.
func (r *TaxonRepository) Descendants(ctx context.Context, id uint) ([]uint, error) {
	var ids []uint
	token := strconv.FormatUint(uint64(id), 10)
	err := r.db.WithContext(ctx).Model(&entities.TaxonRecord{}).
		Where("ancestry_path = ? OR ancestry_path LIKE ? OR ancestry_path LIKE ? OR ancestry_path LIKE ?",
			token, token+ancestrySeparator+"%", "%"+ancestrySeparator+token, "%"+ancestrySeparator+token+ancestrySeparator+"%").
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, dbError(err, "list_descendants", "", "taxon_id", id)
	}
	return ids, nil
}

// Count returns the number of taxa stored.
func (r *TaxonRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&entities.TaxonRecord{}).Count(&n).Error; err != nil {
		return 0, dbError(err, "count_taxa", "")
	}
	return n, nil
}

func formatAncestry(ids []uint) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ancestrySeparator)
}

func parseAncestry(path string) ([]uint, error) {
	if path == "" {
		return nil, nil
	}
	parts := strings.Split(path, ancestrySeparator)
	ids := make([]uint, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}
