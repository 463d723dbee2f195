package snapshot

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresStore keeps one row per aggregate in event_store.snapshots.
// The upsert only moves forward: a stale writer cannot replace a newer
// snapshot with an older one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_store.snapshots (aggregate_uuid, aggregate_version, state, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (aggregate_uuid) DO UPDATE
			SET aggregate_version = EXCLUDED.aggregate_version,
			    state = EXCLUDED.state,
			    created_at = EXCLUDED.created_at
			WHERE snapshots.aggregate_version < EXCLUDED.aggregate_version
	`, snap.AggregateID, snap.AggregateVersion, []byte(snap.State))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, aggregateID uuid.UUID) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT aggregate_uuid, aggregate_version, state, created_at
		FROM event_store.snapshots
		WHERE aggregate_uuid = $1
	`, aggregateID)

	var snap Snapshot
	err := row.Scan(&snap.AggregateID, &snap.AggregateVersion, (*[]byte)(&snap.State), &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return &snap, nil
}
