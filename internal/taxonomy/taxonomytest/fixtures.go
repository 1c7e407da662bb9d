// Package taxonomytest provides a small, realistic taxon tree for tests.
package taxonomytest

import (
	"github.com/tphakala/idconsensus/internal/logger"
	"github.com/tphakala/idconsensus/internal/taxonomy"
)

// Taxon ids of the fixture tree
const (
	Life              uint = 48460
	Animalia          uint = 1
	Chordata          uint = 2
	Aves              uint = 3
	Apodiformes       uint = 6544
	Trochilidae       uint = 6888
	Calypte           uint = 6582
	CalypteAnna       uint = 9521
	CalypteCostae     uint = 9522
	Amphibia          uint = 20978
	Anura             uint = 20979
	Hylidae           uint = 19577
	Pseudacris        uint = 23435
	PseudacrisRegilla uint = 23442
	Reptilia          uint = 26036
	Gopherus          uint = 39531
	GopherusAgassizii uint = 39532
	Unplaced          uint = 900001 // separate root, shares no ancestor with Life
	UnplacedSpecies   uint = 900002
)

type node struct {
	id, parent uint
	name, rank string
	threatened bool
	iconic     uint
}

var nodes = []node{
	{Life, 0, "Life", "stateofmatter", false, 0},
	{Animalia, Life, "Animalia", "kingdom", false, Animalia},
	{Chordata, Animalia, "Chordata", "phylum", false, Animalia},
	{Aves, Chordata, "Aves", "class", false, Aves},
	{Apodiformes, Aves, "Apodiformes", "order", false, Aves},
	{Trochilidae, Apodiformes, "Trochilidae", "family", false, Aves},
	{Calypte, Trochilidae, "Calypte", "genus", false, Aves},
	{CalypteAnna, Calypte, "Calypte anna", "species", false, Aves},
	{CalypteCostae, Calypte, "Calypte costae", "species", false, Aves},
	{Amphibia, Chordata, "Amphibia", "class", false, Amphibia},
	{Anura, Amphibia, "Anura", "order", false, Amphibia},
	{Hylidae, Anura, "Hylidae", "family", false, Amphibia},
	{Pseudacris, Hylidae, "Pseudacris", "genus", false, Amphibia},
	{PseudacrisRegilla, Pseudacris, "Pseudacris regilla", "species", false, Amphibia},
	{Reptilia, Chordata, "Reptilia", "class", false, Reptilia},
	{Gopherus, Reptilia, "Gopherus", "genus", false, Reptilia},
	{GopherusAgassizii, Gopherus, "Gopherus agassizii", "species", true, Reptilia},
	{Unplaced, 0, "Unplaced", "kingdom", false, 0},
	{UnplacedSpecies, Unplaced, "Unplaced species", "species", false, 0},
}

// Seeds returns the fixture as seed entries.
func Seeds() []taxonomy.SeedTaxon {
	seeds := make([]taxonomy.SeedTaxon, 0, len(nodes))
	for _, n := range nodes {
		seeds = append(seeds, taxonomy.SeedTaxon{
			ID:            n.id,
			Name:          n.name,
			Rank:          n.rank,
			ParentID:      n.parent,
			Threatened:    n.threatened,
			IconicTaxonID: n.iconic,
		})
	}
	return seeds
}

// Taxa returns the fixture with resolved lineages.
func Taxa() []taxonomy.Taxon {
	taxa, err := taxonomy.BuildTaxa(Seeds())
	if err != nil {
		panic(err)
	}
	return taxa
}

// Source returns a MemorySource holding the fixture.
func Source() *taxonomy.MemorySource {
	return taxonomy.NewMemorySource(Taxa()...)
}

// Tree returns a CachedTree over the fixture.
func Tree() *taxonomy.CachedTree {
	return taxonomy.NewCachedTree(Source(), taxonomy.CacheOptions{Logger: logger.NewDiscardLogger()})
}
