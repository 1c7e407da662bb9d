package taxonomy_test

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/logger"
	"github.com/tphakala/idconsensus/internal/taxonomy"
	tt "github.com/tphakala/idconsensus/internal/taxonomy/taxonomytest"
)

type switchableSource struct {
	inner taxonomy.Source
	down  atomic.Bool
}

func (s *switchableSource) Fetch(ctx context.Context, id uint) (*taxonomy.Taxon, error) {
	if s.down.Load() {
		return nil, stderrors.New("source unavailable")
	}
	return s.inner.Fetch(ctx, id)
}

func TestPinnedSurvivesInvalidation(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	source := &switchableSource{inner: tt.Source()}
	shared := taxonomy.NewCachedTree(source, taxonomy.CacheOptions{Logger: logger.NewDiscardLogger()})

	pinned := taxonomy.Pin(shared)
	require.NoError(t, pinned.PinLineages(ctx, tt.CalypteAnna, tt.PseudacrisRegilla, 0))
	assert.Equal(t, 13, pinned.Len(), "both lineages share Life, Animalia and Chordata")

	// the shared cache is emptied and the source goes away
	shared.Invalidate(tt.Life)
	source.down.Store(true)

	lineage, err := pinned.Ancestors(ctx, tt.CalypteAnna)
	require.NoError(t, err)
	assert.Equal(t, []uint{tt.Life, tt.Animalia, tt.Chordata, tt.Aves, tt.Apodiformes, tt.Trochilidae, tt.Calypte, tt.CalypteAnna}, lineage)

	rank, err := pinned.Rank(ctx, tt.Chordata)
	require.NoError(t, err)
	assert.Equal(t, taxonomy.RankLevelPhylum, rank)

	threatened, err := pinned.IsThreatened(ctx, tt.Pseudacris)
	require.NoError(t, err)
	assert.False(t, threatened)

	// anything not pinned still goes to the shared tree
	_, err = pinned.Taxon(ctx, tt.GopherusAgassizii)
	require.Error(t, err)
	assert.True(t, errors.IsLookupFailure(err))
}

func TestPinnedReturnsCopies(t *testing.T) {
	t.Parallel()
	pinned := taxonomy.Pin(tt.Tree())

	first, err := pinned.Taxon(t.Context(), tt.Calypte)
	require.NoError(t, err)
	first.Name = "changed"

	again, err := pinned.Taxon(t.Context(), tt.Calypte)
	require.NoError(t, err)
	assert.Equal(t, "Calypte", again.Name)
}
