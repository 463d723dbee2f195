package snapshot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a materialized aggregate state at a specific version,
// kept solely to bound replay cost. Its version never exceeds the
// aggregate's highest persisted event version, and it can be dropped
// at any time: the event stream rebuilds it.
type Snapshot struct {
	AggregateID      uuid.UUID
	AggregateVersion int64
	State            json.RawMessage
	CreatedAt        time.Time
}

// Store keeps at most the latest snapshot per aggregate; saving a newer
// one supersedes the old.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error

	// Load returns the latest snapshot for the aggregate, or nil if
	// none exists.
	Load(ctx context.Context, aggregateID uuid.UUID) (*Snapshot, error)
}
