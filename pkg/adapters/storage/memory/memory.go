package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/dago-testrun/pkg/domain"
	"github.com/aescanero/dago-testrun/pkg/ports"
)

// InMemorySnapshotStorage implements SnapshotStorage using an in-memory map
type InMemorySnapshotStorage struct {
	snapshots map[string][]byte
	mu        sync.RWMutex
}

// NewInMemorySnapshotStorage creates a new in-memory snapshot storage
func NewInMemorySnapshotStorage() *InMemorySnapshotStorage {
	return &InMemorySnapshotStorage{
		snapshots: make(map[string][]byte),
	}
}

// Save stores a copy of snap under its execute ID
func (s *InMemorySnapshotStorage) Save(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil || snap.Handle.ExecuteID == "" {
		return fmt.Errorf("snapshot has no execute id")
	}

	// Encoded copy so later mutations by the caller are not visible
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snap.Handle.ExecuteID] = data
	return nil
}

// Get returns the snapshot of an execution
func (s *InMemorySnapshotStorage) Get(ctx context.Context, executeID string) (*domain.Snapshot, error) {
	s.mu.RLock()
	data, ok := s.snapshots[executeID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrSnapshotNotFound, executeID)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Delete removes the snapshot of an execution
func (s *InMemorySnapshotStorage) Delete(ctx context.Context, executeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, executeID)
	return nil
}

// List returns the stored execute IDs in lexical order
func (s *InMemorySnapshotStorage) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, nil
}

var _ ports.SnapshotStorage = (*InMemorySnapshotStorage)(nil)
