package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StoredEvent is the persisted, immutable wire shape of one event.
// Column names mirror the stored_events table so archival and migration
// tooling interoperates with existing history.
type StoredEvent struct {
	// Global insertion-order position assigned by the store
	Position int64 `json:"position"`

	AggregateID uuid.UUID `json:"aggregate_id"`

	// Gapless per-aggregate version starting at 1.
	// (AggregateID, AggregateVersion) is globally unique.
	AggregateVersion int64 `json:"aggregate_version"`

	// Schema version of the payload encoding
	EventVersion int32 `json:"event_version"`

	// Snake-case discriminator, e.g. "liquidity_added"
	EventClass string `json:"event_class"`

	EventProperties json.RawMessage `json:"event_properties"`
	MetaData        json.RawMessage `json:"meta_data"`

	// Server-assigned commit timestamp. Not part of aggregate state:
	// replay must not depend on wall-clock values.
	CreatedAt time.Time `json:"created_at"`
}

// NewEvent is an event prepared for append, before the store assigns
// version, position and timestamp.
type NewEvent struct {
	EventClass      string
	EventVersion    int32
	EventProperties json.RawMessage
	MetaData        json.RawMessage
}

// Metadata travels with every stored event for audit and tracing.
type Metadata struct {
	CausationID   string `json:"causation_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Actor         string `json:"actor,omitempty"`
}

// Domain returns the aggregate's event payload decoded from the record.
func (se StoredEvent) Domain() (Event, error) {
	return Unmarshal(se.EventClass, se.EventProperties)
}
