// Package consensus computes the community taxon of an observation from its
// current identifications, along with the agreement counts and quality
// grade that follow from it. Everything here is a pure function of its
// inputs and the taxon tree.
package consensus

import (
	"cmp"
	"context"
	"slices"

	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/observation"
	"github.com/tphakala/idconsensus/internal/taxonomy"
)

// MinResearchAgreements is the number of distinct users that must agree with
// the resolved taxon for research grade.
const MinResearchAgreements = 2

// Input is everything the engine needs for one observation.
type Input struct {
	ObservationID uint
	OwnerID       uint
	// Identifications must all be current, at most one per user.
	Identifications []*observation.Identification
	// Wild is the tallied "wild" quality metric, nil when nobody voted.
	Wild     *bool
	Previous observation.Derived
}

// TaxonVotes is the tally for one taxon.
type TaxonVotes struct {
	TaxonID uint `json:"taxon_id"`
	Votes   int  `json:"votes"`
	Depth   int  `json:"depth"`
}

// Result is the derived state for an observation. Zero taxon ids mean none.
type Result struct {
	ObservationID    uint                     `json:"observation_id"`
	CommunityTaxonID uint                     `json:"community_taxon_id"`
	OwnerTaxonID     uint                     `json:"owner_taxon_id"`
	ResolvedTaxonID  uint                     `json:"resolved_taxon_id"`
	Agreements       int                      `json:"num_identification_agreements"`
	Disagreements    int                      `json:"num_identification_disagreements"`
	QualityGrade     observation.QualityGrade `json:"quality_grade"`
	Total            int                      `json:"total"`
	Votes            []TaxonVotes             `json:"votes"`
	Previous         observation.Derived      `json:"previous"`
}

// GradeChanged reports whether the grade crossed the research boundary.
func (r *Result) GradeChanged() bool {
	return (r.QualityGrade == observation.GradeResearch) != (r.Previous.QualityGrade == observation.GradeResearch)
}

type ballot struct {
	ident   *observation.Identification
	lineage []uint // root first, ending with the identification taxon
}

// Compute tallies one vote per identification on every taxon of its lineage
// and picks the community taxon: the most specific taxon held by a strict
// majority. A taxon shared by every vote always has a majority, so when the
// votes split the deepest common ancestor wins, and votes without any common
// ancestor give no community taxon.
func Compute(ctx context.Context, tree taxonomy.Tree, in Input) (*Result, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	res := &Result{
		ObservationID: in.ObservationID,
		Total:         len(in.Identifications),
		Previous:      in.Previous,
	}

	ballots := make([]ballot, 0, len(in.Identifications))
	for _, ident := range in.Identifications {
		lineage, err := tree.Ancestors(ctx, ident.TaxonID)
		if err != nil {
			return nil, err
		}
		ballots = append(ballots, ballot{ident: ident, lineage: lineage})
		if ident.UserID == in.OwnerID {
			res.OwnerTaxonID = ident.TaxonID
		}
	}

	res.Votes = tally(ballots)
	community, err := pickCommunity(ctx, tree, res.Votes, res.Total)
	if err != nil {
		return nil, err
	}
	res.CommunityTaxonID = community

	res.ResolvedTaxonID = res.OwnerTaxonID
	if res.ResolvedTaxonID == 0 {
		res.ResolvedTaxonID = res.CommunityTaxonID
	}

	// Nothing to agree or disagree with until the owner identifies.
	if res.OwnerTaxonID != 0 {
		for _, b := range ballots {
			if b.ident.UserID == in.OwnerID {
				continue
			}
			if slices.Contains(b.lineage, res.OwnerTaxonID) {
				res.Agreements++
			} else {
				res.Disagreements++
			}
		}
	}

	grade, err := qualityGrade(ctx, tree, in, res, ballots)
	if err != nil {
		return nil, err
	}
	res.QualityGrade = grade
	return res, nil
}

// IsAgreement reports whether an identification of identTaxonID agrees with
// an observation of obsTaxonID: the same taxon or a descendant of it.
func IsAgreement(ctx context.Context, tree taxonomy.Tree, identTaxonID, obsTaxonID uint) (bool, error) {
	if identTaxonID == 0 || obsTaxonID == 0 {
		return false, nil
	}
	if identTaxonID == obsTaxonID {
		return true, nil
	}
	lineage, err := tree.Ancestors(ctx, identTaxonID)
	if err != nil {
		return false, err
	}
	return slices.Contains(lineage, obsTaxonID), nil
}

func validate(in Input) error {
	seen := make(map[uint]uint, len(in.Identifications))
	for _, ident := range in.Identifications {
		if ident == nil {
			return errors.InvalidState("nil identification on observation %d", in.ObservationID).
				Component("consensus").Build()
		}
		if !ident.Current {
			return errors.InvalidState("identification %d is not current", ident.ID).
				Component("consensus").
				Context("observation_id", in.ObservationID).
				Context("identification_id", ident.ID).
				Build()
		}
		if ident.TaxonID == 0 {
			return errors.InvalidState("identification %d has no taxon", ident.ID).
				Component("consensus").
				Context("identification_id", ident.ID).
				Build()
		}
		if prev, dup := seen[ident.UserID]; dup {
			return errors.InvalidState("user %d has two current identifications (%d, %d) on observation %d",
				ident.UserID, prev, ident.ID, in.ObservationID).
				Component("consensus").
				Context("observation_id", in.ObservationID).
				Context("user_id", ident.UserID).
				Build()
		}
		seen[ident.UserID] = ident.ID
	}
	return nil
}

func tally(ballots []ballot) []TaxonVotes {
	byTaxon := make(map[uint]*TaxonVotes)
	for _, b := range ballots {
		for depth, id := range b.lineage {
			tv, ok := byTaxon[id]
			if !ok {
				tv = &TaxonVotes{TaxonID: id, Depth: depth}
				byTaxon[id] = tv
			}
			tv.Votes++
		}
	}
	votes := make([]TaxonVotes, 0, len(byTaxon))
	for _, tv := range byTaxon {
		votes = append(votes, *tv)
	}
	slices.SortFunc(votes, func(a, b TaxonVotes) int {
		if c := cmp.Compare(a.Depth, b.Depth); c != 0 {
			return c
		}
		return cmp.Compare(a.TaxonID, b.TaxonID)
	})
	return votes
}

// pickCommunity orders majority taxa by depth (deeper first), then lower rank
// level, then more votes, then lower id.
func pickCommunity(ctx context.Context, tree taxonomy.Tree, votes []TaxonVotes, total int) (uint, error) {
	type candidate struct {
		TaxonVotes
		rank float64
	}
	var candidates []candidate
	for _, tv := range votes {
		if 2*tv.Votes <= total {
			continue
		}
		rank, err := tree.Rank(ctx, tv.TaxonID)
		if err != nil {
			return 0, err
		}
		candidates = append(candidates, candidate{TaxonVotes: tv, rank: rank})
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	best := slices.MinFunc(candidates, func(a, b candidate) int {
		if c := cmp.Compare(b.Depth, a.Depth); c != 0 {
			return c
		}
		if c := cmp.Compare(a.rank, b.rank); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Votes, a.Votes); c != 0 {
			return c
		}
		return cmp.Compare(a.TaxonID, b.TaxonID)
	})
	return best.TaxonID, nil
}

func qualityGrade(ctx context.Context, tree taxonomy.Tree, in Input, res *Result, ballots []ballot) (observation.QualityGrade, error) {
	if observation.IsCaptive(in.Wild) {
		return observation.GradeCasual, nil
	}
	if res.CommunityTaxonID != 0 {
		rank, err := tree.Rank(ctx, res.CommunityTaxonID)
		if err != nil {
			return "", err
		}
		if rank > 0 && rank <= taxonomy.RankLevelSpecies && agreeingUsers(ballots, res.ResolvedTaxonID) >= MinResearchAgreements {
			return observation.GradeResearch, nil
		}
	}
	if len(ballots) > 0 && res.ResolvedTaxonID != 0 {
		return observation.GradeNeedsID, nil
	}
	return observation.GradeCasual, nil
}

func agreeingUsers(ballots []ballot, taxonID uint) int {
	users := make(map[uint]struct{})
	for _, b := range ballots {
		if slices.Contains(b.lineage, taxonID) {
			users[b.ident.UserID] = struct{}{}
		}
	}
	return len(users)
}
