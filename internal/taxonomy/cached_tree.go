package taxonomy

import (
	"context"
	stderrors "errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/logger"
)

const (
	DefaultCacheTTL      = 6 * time.Hour
	DefaultLookupTimeout = 2 * time.Second
)

// CacheOptions configures a CachedTree.
type CacheOptions struct {
	TTL           time.Duration
	LookupTimeout time.Duration
	Logger        logger.Logger
	Metrics       Recorder
}

// CachedTree implements Tree over a Source with a TTL cache. Concurrent
// misses for one id share a single fetch, and every fetch runs under the
// lookup timeout; a timeout or source failure surfaces as a lookup failure.
type CachedTree struct {
	source  Source
	cache   *cache.Cache
	group   singleflight.Group
	ttl     atomic.Int64
	timeout time.Duration
	logger  logger.Logger
	metrics Recorder
}

// NewCachedTree wraps source.
func NewCachedTree(source Source, opts CacheOptions) *CachedTree {
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewDiscardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopRecorder{}
	}

	t := &CachedTree{
		source:  source,
		cache:   cache.New(opts.TTL, 2*opts.TTL),
		timeout: opts.LookupTimeout,
		logger:  opts.Logger.Module("taxonomy"),
		metrics: opts.Metrics,
	}
	t.ttl.Store(int64(opts.TTL))
	return t
}

func cacheKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Taxon returns the taxon with its lineage. The result is a copy.
func (t *CachedTree) Taxon(ctx context.Context, id uint) (*Taxon, error) {
	key := cacheKey(id)

	if cached, found := t.cache.Get(key); found {
		if taxon, ok := cached.(*Taxon); ok {
			t.metrics.RecordOperation(OpCacheLookup, StatusHit)
			return taxon.Clone(), nil
		}
	}
	t.metrics.RecordOperation(OpCacheLookup, StatusMiss)

	// The shared fetch must outlive any single caller's cancellation
	ch := t.group.DoChan(key, func() (any, error) {
		return t.fetch(context.WithoutCancel(ctx), id)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		taxon, _ := res.Val.(*Taxon)
		return taxon.Clone(), nil
	case <-ctx.Done():
		return nil, t.lookupFailure(id, ctx.Err(), "caller cancelled")
	}
}

func (t *CachedTree) fetch(ctx context.Context, id uint) (*Taxon, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	taxon, err := t.source.Fetch(lookupCtx, id)
	t.metrics.RecordDuration(OpFetch, time.Since(start).Seconds())

	switch {
	case err == nil:
	case errors.IsNotFound(err):
		t.metrics.RecordOperation(OpFetch, StatusNotFound)
		return nil, err
	case stderrors.Is(err, context.DeadlineExceeded) || lookupCtx.Err() != nil:
		t.metrics.RecordOperation(OpFetch, StatusTimeout)
		return nil, t.lookupFailure(id, err, "lookup timed out")
	default:
		t.metrics.RecordOperation(OpFetch, StatusError)
		return nil, t.lookupFailure(id, err, "source failed")
	}

	if err := taxon.Validate(); err != nil {
		t.metrics.RecordOperation(OpFetch, StatusError)
		return nil, err
	}
	if taxon.ID != id {
		t.metrics.RecordOperation(OpFetch, StatusError)
		return nil, malformed("source returned taxon %d for id %d", taxon.ID, id)
	}

	t.metrics.RecordOperation(OpFetch, StatusSuccess)
	t.cache.Set(cacheKey(id), taxon, time.Duration(t.ttl.Load()))
	return taxon, nil
}

func (t *CachedTree) lookupFailure(id uint, err error, reason string) error {
	t.logger.Warn("taxon lookup failed",
		logger.Uint64("taxon_id", uint64(id)),
		logger.String("reason", reason),
		logger.Error(err))
	return errors.LookupFailure(err).
		Component("taxonomy").
		Context("taxon_id", id).
		Context("reason", reason).
		Timing("fetch_taxon", t.timeout).
		Build()
}

// Ancestors returns the chain from the root down to and including id.
func (t *CachedTree) Ancestors(ctx context.Context, id uint) ([]uint, error) {
	taxon, err := t.Taxon(ctx, id)
	if err != nil {
		return nil, err
	}
	return taxon.Lineage(), nil
}

// Rank returns the rank level of id.
func (t *CachedTree) Rank(ctx context.Context, id uint) (float64, error) {
	taxon, err := t.Taxon(ctx, id)
	if err != nil {
		return 0, err
	}
	return taxon.RankLevel, nil
}

// IsThreatened reports the conservation flag of id.
func (t *CachedTree) IsThreatened(ctx context.Context, id uint) (bool, error) {
	taxon, err := t.Taxon(ctx, id)
	if err != nil {
		return false, err
	}
	return taxon.Threatened, nil
}

// Invalidate drops id and every cached descendant, whose lineage may have
// changed with it. Returns the number of entries removed.
func (t *CachedTree) Invalidate(id uint) int {
	removed := 0
	if _, found := t.cache.Get(cacheKey(id)); found {
		t.cache.Delete(cacheKey(id))
		removed++
	}

	for key, item := range t.cache.Items() {
		taxon, ok := item.Object.(*Taxon)
		if ok && taxon.HasAncestor(id) {
			t.cache.Delete(key)
			removed++
		}
	}

	t.logger.Debug("taxon cache invalidated",
		logger.Uint64("taxon_id", uint64(id)),
		logger.Int("entries_removed", removed))
	return removed
}

// Flush empties the cache.
func (t *CachedTree) Flush() {
	t.cache.Flush()
}

// SetTTL changes the lifetime of entries cached from now on.
func (t *CachedTree) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		t.ttl.Store(int64(ttl))
	}
}

// Len returns the number of cached taxa.
func (t *CachedTree) Len() int {
	return t.cache.ItemCount()
}

var _ Tree = (*CachedTree)(nil)
