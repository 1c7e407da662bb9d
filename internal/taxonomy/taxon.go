// Package taxonomy provides read-only access to the taxon tree: ancestor
// chains, rank levels and threat status, from the local taxa table or a
// remote taxonomy service, behind a TTL cache.
package taxonomy

import (
	"slices"
	"strings"

	"github.com/tphakala/idconsensus/internal/errors"
)

// Rank levels. Lower is more specific.
const (
	RankLevelStateOfMatter float64 = 100
	RankLevelKingdom       float64 = 70
	RankLevelPhylum        float64 = 60
	RankLevelSubphylum     float64 = 57
	RankLevelClass         float64 = 50
	RankLevelSubclass      float64 = 47
	RankLevelOrder         float64 = 40
	RankLevelSuborder      float64 = 37
	RankLevelSuperfamily   float64 = 33
	RankLevelFamily        float64 = 30
	RankLevelSubfamily     float64 = 27
	RankLevelTribe         float64 = 25
	RankLevelGenus         float64 = 20
	RankLevelSubgenus      float64 = 15
	RankLevelComplex       float64 = 11
	RankLevelSpecies       float64 = 10
	RankLevelHybrid        float64 = 10
	RankLevelSubspecies    float64 = 5
	RankLevelVariety       float64 = 5
	RankLevelForm          float64 = 5
)

var rankLevels = map[string]float64{
	"stateofmatter": RankLevelStateOfMatter,
	"kingdom":       RankLevelKingdom,
	"phylum":        RankLevelPhylum,
	"subphylum":     RankLevelSubphylum,
	"class":         RankLevelClass,
	"subclass":      RankLevelSubclass,
	"order":         RankLevelOrder,
	"suborder":      RankLevelSuborder,
	"superfamily":   RankLevelSuperfamily,
	"family":        RankLevelFamily,
	"subfamily":     RankLevelSubfamily,
	"tribe":         RankLevelTribe,
	"genus":         RankLevelGenus,
	"subgenus":      RankLevelSubgenus,
	"complex":       RankLevelComplex,
	"species":       RankLevelSpecies,
	"hybrid":        RankLevelHybrid,
	"subspecies":    RankLevelSubspecies,
	"variety":       RankLevelVariety,
	"form":          RankLevelForm,
}

// RankLevelFor returns the level for a rank name and whether it is known.
func RankLevelFor(rank string) (float64, bool) {
	level, ok := rankLevels[strings.ToLower(strings.TrimSpace(rank))]
	return level, ok
}

// Taxon is one node of the tree.
type Taxon struct {
	ID            uint    `json:"id" yaml:"id"`
	Name          string  `json:"name" yaml:"name"`
	Rank          string  `json:"rank" yaml:"rank"`
	RankLevel     float64 `json:"rank_level" yaml:"rank_level"`
	AncestorIDs   []uint  `json:"ancestor_ids" yaml:"ancestor_ids"` // root first, excludes the taxon itself
	Threatened    bool    `json:"threatened" yaml:"threatened"`
	IconicTaxonID uint    `json:"iconic_taxon_id,omitempty" yaml:"iconic_taxon_id"`
}

// Lineage returns the ancestor chain ending with the taxon itself.
func (t *Taxon) Lineage() []uint {
	lineage := make([]uint, 0, len(t.AncestorIDs)+1)
	lineage = append(lineage, t.AncestorIDs...)
	return append(lineage, t.ID)
}

// Depth is the number of ancestors above the taxon.
func (t *Taxon) Depth() int {
	return len(t.AncestorIDs)
}

// ParentID returns the direct parent, or 0 for a root.
func (t *Taxon) ParentID() uint {
	if len(t.AncestorIDs) == 0 {
		return 0
	}
	return t.AncestorIDs[len(t.AncestorIDs)-1]
}

// IsSpeciesOrLower reports rank level <= species.
func (t *Taxon) IsSpeciesOrLower() bool {
	return t.RankLevel > 0 && t.RankLevel <= RankLevelSpecies
}

// HasAncestor reports whether id is a strict ancestor of t.
func (t *Taxon) HasAncestor(id uint) bool {
	return slices.Contains(t.AncestorIDs, id)
}

// IsSelfOrDescendantOf reports whether t is id or sits below it.
func (t *Taxon) IsSelfOrDescendantOf(id uint) bool {
	return t.ID == id || t.HasAncestor(id)
}

// Clone returns a deep copy so cached values are never mutated by callers.
func (t *Taxon) Clone() *Taxon {
	c := *t
	c.AncestorIDs = slices.Clone(t.AncestorIDs)
	return &c
}

// Validate checks the structural lineage invariants: a non-zero id, an
// ancestor chain without the taxon itself and without repeats.
func (t *Taxon) Validate() error {
	if t.ID == 0 {
		return malformed("taxon id must be non-zero")
	}
	seen := make(map[uint]struct{}, len(t.AncestorIDs))
	for _, id := range t.AncestorIDs {
		if id == t.ID {
			return malformed("taxon %d lists itself as an ancestor", t.ID)
		}
		if id == 0 {
			return malformed("taxon %d has a zero ancestor id", t.ID)
		}
		if _, dup := seen[id]; dup {
			return malformed("taxon %d has a cycle through ancestor %d", t.ID, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func malformed(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("taxonomy").
		Category(errors.CategoryTaxonomy).
		Build()
}

func notFound(id uint) error {
	return errors.NotFound("taxon %d not found", id).
		Component("taxonomy").
		Context("taxon_id", id).
		Build()
}
