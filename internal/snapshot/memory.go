package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process snapshot store used by unit tests.
type MemoryStore struct {
	mu    sync.Mutex
	snaps map[uuid.UUID]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[uuid.UUID]Snapshot)}
}

func (s *MemoryStore) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.snaps[snap.AggregateID]; ok && prev.AggregateVersion >= snap.AggregateVersion {
		return nil
	}
	snap.State = append([]byte(nil), snap.State...)
	snap.CreatedAt = time.Now().UTC()
	s.snaps[snap.AggregateID] = snap
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, aggregateID uuid.UUID) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snaps[aggregateID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}
