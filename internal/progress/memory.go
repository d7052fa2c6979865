package progress

import (
	"context"
	"sync"

	"github.com/equimed/catalog-importer/internal/domain"
)

// MemoryStore is an in-process Store used by the CLI and tests
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// NewMemoryStore creates an empty in-memory progress store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]Snapshot)}
}

// Put writes the snapshot for a job
func (m *MemoryStore) Put(_ context.Context, jobID string, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[jobID] = snap
	return nil
}

// Get retrieves the snapshot for a job
func (m *MemoryStore) Get(_ context.Context, jobID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &snap, nil
}
