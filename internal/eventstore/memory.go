package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ammledger/internal/event"
)

// MemoryStore is an in-process Store with the same semantics as the
// Postgres implementation, including conflict detection and global
// positions. Used by unit tests and rebuild tooling.
type MemoryStore struct {
	mu       sync.Mutex
	events   []event.StoredEvent
	versions map[uuid.UUID]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[uuid.UUID]int64)}
}

func (s *MemoryStore) Append(ctx context.Context, aggregateID uuid.UUID, expectedVersion int64, events []event.NewEvent) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return expectedVersion, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.versions[aggregateID] != expectedVersion {
		return 0, ErrConcurrencyConflict
	}

	now := time.Now().UTC()
	for i, e := range events {
		s.events = append(s.events, event.StoredEvent{
			Position:         int64(len(s.events)) + 1,
			AggregateID:      aggregateID,
			AggregateVersion: expectedVersion + int64(i) + 1,
			EventVersion:     e.EventVersion,
			EventClass:       e.EventClass,
			EventProperties:  append([]byte(nil), e.EventProperties...),
			MetaData:         append([]byte(nil), e.MetaData...),
			CreatedAt:        now,
		})
	}
	newVersion := expectedVersion + int64(len(events))
	s.versions[aggregateID] = newVersion
	return newVersion, nil
}

func (s *MemoryStore) Load(ctx context.Context, aggregateID uuid.UUID, fromVersion int64) ([]event.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []event.StoredEvent
	for _, se := range s.events {
		if se.AggregateID == aggregateID && se.AggregateVersion > fromVersion {
			out = append(out, se)
		}
	}
	return out, nil
}

func (s *MemoryStore) ScanAll(ctx context.Context, afterPosition int64, limit int) ([]event.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []event.StoredEvent
	for _, se := range s.events {
		if se.Position > afterPosition {
			out = append(out, se)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
