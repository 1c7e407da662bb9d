package taxonomy

import "context"

// Pinned is a per-operation view of a Tree. Taxa resolved through it stay
// resolved for the life of the view, whatever happens to the shared cache
// meanwhile. It is not safe for concurrent use.
type Pinned struct {
	base Tree
	taxa map[uint]*Taxon
}

// Pin returns an empty view over base.
func Pin(base Tree) *Pinned {
	return &Pinned{base: base, taxa: make(map[uint]*Taxon)}
}

// PinLineages resolves every taxon in the lineage of each id, the id
// included, so later lookups of any of them never reach the source.
func (p *Pinned) PinLineages(ctx context.Context, ids ...uint) error {
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := p.taxa[id]; ok {
			continue
		}
		taxon, err := p.Taxon(ctx, id)
		if err != nil {
			return err
		}
		for _, a := range taxon.AncestorIDs {
			if _, err := p.Taxon(ctx, a); err != nil {
				return err
			}
		}
	}
	return nil
}

// Taxon returns the pinned copy of id, resolving it through the base tree on
// first use.
func (p *Pinned) Taxon(ctx context.Context, id uint) (*Taxon, error) {
	if taxon, ok := p.taxa[id]; ok {
		return taxon.Clone(), nil
	}
	taxon, err := p.base.Taxon(ctx, id)
	if err != nil {
		return nil, err
	}
	p.taxa[id] = taxon
	return taxon.Clone(), nil
}

func (p *Pinned) Ancestors(ctx context.Context, id uint) ([]uint, error) {
	taxon, err := p.Taxon(ctx, id)
	if err != nil {
		return nil, err
	}
	return taxon.Lineage(), nil
}

func (p *Pinned) Rank(ctx context.Context, id uint) (float64, error) {
	taxon, err := p.Taxon(ctx, id)
	if err != nil {
		return 0, err
	}
	return taxon.RankLevel, nil
}

func (p *Pinned) IsThreatened(ctx context.Context, id uint) (bool, error) {
	taxon, err := p.Taxon(ctx, id)
	if err != nil {
		return false, err
	}
	return taxon.Threatened, nil
}

// Len returns the number of pinned taxa.
func (p *Pinned) Len() int {
	return len(p.taxa)
}

var _ Tree = (*Pinned)(nil)
