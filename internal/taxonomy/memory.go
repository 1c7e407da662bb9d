package taxonomy

import (
	"context"
	"sync"
)

// MemorySource is an in-process Source, used by tests and by the seed
// importer's dry run.
type MemorySource struct {
	mu    sync.RWMutex
	taxa  map[uint]*Taxon
	calls int
}

// NewMemorySource creates a source holding copies of taxa.
func NewMemorySource(taxa ...Taxon) *MemorySource {
	m := &MemorySource{taxa: make(map[uint]*Taxon, len(taxa))}
	for i := range taxa {
		m.Put(taxa[i])
	}
	return m
}

// Put adds or replaces a taxon.
func (m *MemorySource) Put(t Taxon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taxa[t.ID] = t.Clone()
}

// Delete removes a taxon.
func (m *MemorySource) Delete(id uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.taxa, id)
}

// Fetch implements Source.
func (m *MemorySource) Fetch(ctx context.Context, id uint) (*Taxon, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	t, ok := m.taxa[id]
	if !ok {
		return nil, notFound(id)
	}
	return t.Clone(), nil
}

// Calls returns how many Fetch calls reached the source.
func (m *MemorySource) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}
