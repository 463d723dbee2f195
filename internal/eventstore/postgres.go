package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"ammledger/internal/event"
)

// AppendLockID keys the advisory transaction lock every Append takes.
// Positions come from a sequence assigned at insert time, but rows
// become visible in commit order; without the lock a slow commit could
// leave a position hole that ScanAll's cursor moves past forever. The
// lock serializes commit visibility only — conflict detection still
// rests solely on the unique constraint.
const AppendLockID int64 = 0x616d6d6c656467 // "ammledg"

// PostgresStore persists events in event_store.stored_events. The table
// carries UNIQUE (aggregate_uuid, aggregate_version): a concurrent
// writer's insert collides there and surfaces as ErrConcurrencyConflict.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, aggregateID uuid.UUID, expectedVersion int64, events []event.NewEvent) (int64, error) {
	if len(events) == 0 {
		return expectedVersion, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, AppendLockID); err != nil {
		return 0, fmt.Errorf("acquire append lock: %w", err)
	}

	query := `INSERT INTO event_store.stored_events
		(aggregate_uuid, aggregate_version, event_version, event_class, event_properties, meta_data, created_at)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*6)
	for i, e := range events {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, NOW())",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			aggregateID, expectedVersion+int64(i)+1,
			e.EventVersion, e.EventClass,
			[]byte(e.EventProperties), []byte(e.MetaData),
		)
	}
	query += strings.Join(values, ", ")

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrConcurrencyConflict
		}
		return 0, fmt.Errorf("append events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrConcurrencyConflict
		}
		return 0, fmt.Errorf("commit append: %w", err)
	}

	return expectedVersion + int64(len(events)), nil
}

func (s *PostgresStore) Load(ctx context.Context, aggregateID uuid.UUID, fromVersion int64) ([]event.StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, aggregate_uuid, aggregate_version, event_version,
		       event_class, event_properties, meta_data, created_at
		FROM event_store.stored_events
		WHERE aggregate_uuid = $1 AND aggregate_version > $2
		ORDER BY aggregate_version ASC
	`, aggregateID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()
	return scanStoredEvents(rows)
}

// ScanAll pages the global stream in position order. The cursor is safe
// to advance past returned rows because Append serializes commit
// visibility under AppendLockID.
func (s *PostgresStore) ScanAll(ctx context.Context, afterPosition int64, limit int) ([]event.StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, aggregate_uuid, aggregate_version, event_version,
		       event_class, event_properties, meta_data, created_at
		FROM event_store.stored_events
		WHERE position > $1
		ORDER BY position ASC
		LIMIT $2
	`, afterPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	defer rows.Close()
	return scanStoredEvents(rows)
}

func scanStoredEvents(rows *sql.Rows) ([]event.StoredEvent, error) {
	var out []event.StoredEvent
	for rows.Next() {
		var se event.StoredEvent
		if err := rows.Scan(
			&se.Position, &se.AggregateID, &se.AggregateVersion, &se.EventVersion,
			&se.EventClass, (*[]byte)(&se.EventProperties), (*[]byte)(&se.MetaData), &se.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stored event: %w", err)
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
