package taxonomy

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/idconsensus/internal/errors"
)

// SeedTaxon is one entry of a taxa seed file. Lineage is given by parent id.
type SeedTaxon struct {
	ID            uint    `yaml:"id"`
	Name          string  `yaml:"name"`
	Rank          string  `yaml:"rank"`
	RankLevel     float64 `yaml:"rank_level"`
	ParentID      uint    `yaml:"parent_id"`
	Threatened    bool    `yaml:"threatened"`
	IconicTaxonID uint    `yaml:"iconic_taxon_id"`
}

type seedDocument struct {
	Taxa []SeedTaxon `yaml:"taxa"`
}

// ParseSeed decodes every YAML document in r.
func ParseSeed(r io.Reader) ([]SeedTaxon, error) {
	dec := yaml.NewDecoder(r)
	var out []SeedTaxon
	for {
		var doc seedDocument
		err := dec.Decode(&doc)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, errors.Newf("failed to parse taxa seed: %w", err).
				Category(errors.CategoryFileParsing).
				Component("taxonomy").
				Build()
		}
		out = append(out, doc.Taxa...)
	}
}

// LoadSeedFiles expands doublestar patterns such as "taxa/**/*.yaml", parses
// every matching file and resolves the combined set into taxa.
func LoadSeedFiles(patterns []string) ([]Taxon, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, errors.Newf("invalid seed pattern %q: %w", pattern, err).
				Category(errors.CategoryConfiguration).
				Component("taxonomy").
				Build()
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	files = slices.Compact(files)

	var seeds []SeedTaxon
	for _, path := range files {
		parsed, err := parseSeedFile(path)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, parsed...)
	}

	return BuildTaxa(seeds)
}

func parseSeedFile(path string) ([]SeedTaxon, error) {
	f, err := os.Open(path) //nolint:gosec // operator supplied seed path
	if err != nil {
		return nil, errors.Newf("failed to open seed file: %w", err).
			Category(errors.CategoryFileParsing).
			Component("taxonomy").
			Context("path", path).
			Build()
	}
	defer func() { _ = f.Close() }()

	seeds, err := ParseSeed(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seeds, nil
}

// BuildTaxa resolves parent links into ancestor chains and checks the tree:
// every parent must exist, no cycles, and rank level never increases going
// down. Result is sorted by id.
func BuildTaxa(seeds []SeedTaxon) ([]Taxon, error) {
	byID := make(map[uint]*SeedTaxon, len(seeds))
	for i := range seeds {
		s := &seeds[i]
		if s.ID == 0 {
			return nil, malformed("seed taxon %q has no id", s.Name)
		}
		if _, dup := byID[s.ID]; dup {
			return nil, malformed("seed taxon %d defined twice", s.ID)
		}
		if s.RankLevel == 0 {
			level, ok := RankLevelFor(s.Rank)
			if !ok {
				return nil, malformed("seed taxon %d has unknown rank %q and no rank_level", s.ID, s.Rank)
			}
			s.RankLevel = level
		}
		byID[s.ID] = s
	}

	taxa := make([]Taxon, 0, len(seeds))
	for _, s := range byID {
		ancestors, err := resolveAncestors(s, byID)
		if err != nil {
			return nil, err
		}
		taxa = append(taxa, Taxon{
			ID:            s.ID,
			Name:          s.Name,
			Rank:          s.Rank,
			RankLevel:     s.RankLevel,
			AncestorIDs:   ancestors,
			Threatened:    s.Threatened,
			IconicTaxonID: s.IconicTaxonID,
		})
	}

	slices.SortFunc(taxa, func(a, b Taxon) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return taxa, nil
}

func resolveAncestors(s *SeedTaxon, byID map[uint]*SeedTaxon) ([]uint, error) {
	var reversed []uint
	seen := map[uint]struct{}{s.ID: {}}
	child := s

	for parentID := s.ParentID; parentID != 0; {
		if _, loop := seen[parentID]; loop {
			return nil, malformed("seed taxon %d has a cycle through %d", s.ID, parentID)
		}
		parent, ok := byID[parentID]
		if !ok {
			return nil, malformed("seed taxon %d references missing parent %d", child.ID, parentID)
		}
		if parent.RankLevel < child.RankLevel {
			return nil, malformed("seed taxon %d (rank level %g) sits below more specific %d (rank level %g)",
				child.ID, child.RankLevel, parent.ID, parent.RankLevel)
		}
		seen[parentID] = struct{}{}
		reversed = append(reversed, parentID)
		child = parent
		parentID = parent.ParentID
	}

	slices.Reverse(reversed)
	return reversed, nil
}
