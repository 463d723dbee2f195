package eventstore

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"ammledger/internal/event"
)

// ErrConcurrencyConflict reports that the aggregate's persisted version
// advanced between reconstruction and commit. It is the only retryable
// append failure: the caller must reload and re-decide, never blindly
// re-append the stale events.
var ErrConcurrencyConflict = errors.New("concurrency conflict: aggregate version has advanced")

// Store is the append-only event log, the single source of truth.
//
// Append is atomic per call: either every event persists at versions
// expectedVersion+1..expectedVersion+len(events), or none do. The
// uniqueness constraint on (aggregate_id, aggregate_version) is the sole
// serialization mechanism; there is no separate locking.
type Store interface {
	// Append persists events and returns the new aggregate version.
	Append(ctx context.Context, aggregateID uuid.UUID, expectedVersion int64, events []event.NewEvent) (int64, error)

	// Load returns the aggregate's events with version > fromVersion,
	// in version order. fromVersion 0 replays the full stream.
	Load(ctx context.Context, aggregateID uuid.UUID, fromVersion int64) ([]event.StoredEvent, error)

	// ScanAll returns up to limit events system-wide with global
	// position > afterPosition, in insertion order. Projections resume
	// and live-tail through repeated calls.
	ScanAll(ctx context.Context, afterPosition int64, limit int) ([]event.StoredEvent, error)
}
