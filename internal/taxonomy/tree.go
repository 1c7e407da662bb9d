package taxonomy

import "context"

// Source fetches a single taxon with its ancestor chain. Missing taxa are
// reported with a not-found error.
type Source interface {
	Fetch(ctx context.Context, id uint) (*Taxon, error)
}

// Tree is the read-only lookup the consensus pipeline works against.
type Tree interface {
	Taxon(ctx context.Context, id uint) (*Taxon, error)
	// Ancestors returns the chain from the root down to and including id.
	Ancestors(ctx context.Context, id uint) ([]uint, error)
	Rank(ctx context.Context, id uint) (float64, error)
	IsThreatened(ctx context.Context, id uint) (bool, error)
}

// Recorder receives cache and lookup metrics. Implemented by observability/metrics.
type Recorder interface {
	RecordOperation(operation, status string)
	RecordDuration(operation string, seconds float64)
}

// Operation and status labels reported to Recorder
const (
	OpCacheLookup = "cache_lookup"
	OpFetch       = "fetch"

	StatusHit      = "hit"
	StatusMiss     = "miss"
	StatusSuccess  = "success"
	StatusNotFound = "not_found"
	StatusError    = "error"
	StatusTimeout  = "timeout"
)

type noopRecorder struct{}

func (noopRecorder) RecordOperation(string, string) {}
func (noopRecorder) RecordDuration(string, float64) {}
