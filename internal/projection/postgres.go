package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"ammledger/internal/event"
)

// PostgresStore keeps the read models in the projections schema. Every
// Apply runs read-model updates and the checkpoint advance in one
// transaction, so readers never observe a torn update and re-delivered
// events are no-ops.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LastPosition(ctx context.Context, projection string) (int64, error) {
	var pos int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_position FROM projections.checkpoints WHERE projection = $1
	`, projection).Scan(&pos)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	return pos, nil
}

func (s *PostgresStore) Apply(ctx context.Context, projection string, se event.StoredEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin projection tx: %w", err)
	}
	defer tx.Rollback()

	// Seed the checkpoint row on first contact: FOR UPDATE on a missing
	// row locks nothing, so without the seed two bootstrap appliers
	// could both pass the re-delivery guard.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.checkpoints (projection, last_position, updated_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (projection) DO NOTHING
	`, projection); err != nil {
		return fmt.Errorf("seed checkpoint: %w", err)
	}

	// Lock the checkpoint row so concurrent appliers of the same
	// projection serialize, then skip anything already applied.
	var last int64
	err = tx.QueryRowContext(ctx, `
		SELECT last_position FROM projections.checkpoints WHERE projection = $1 FOR UPDATE
	`, projection).Scan(&last)
	if err != nil {
		return fmt.Errorf("lock checkpoint: %w", err)
	}
	if se.Position <= last {
		return nil
	}

	domain, err := se.Domain()
	if err != nil {
		return err
	}

	switch ev := domain.(type) {
	case event.PoolCreated:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO projections.pool_states
				(pool_id, base_asset, quote_asset, base_reserve, quote_reserve,
				 total_shares, fee_rate, active, last_version, updated_at)
			VALUES ($1, $2, $3, 0, 0, 0, $4, TRUE, $5, NOW())
			ON CONFLICT (pool_id) DO UPDATE SET
				base_asset = EXCLUDED.base_asset,
				quote_asset = EXCLUDED.quote_asset,
				base_reserve = 0, quote_reserve = 0, total_shares = 0,
				fee_rate = EXCLUDED.fee_rate, active = TRUE,
				last_version = EXCLUDED.last_version, updated_at = NOW()
		`, ev.PoolID, ev.BaseAsset, ev.QuoteAsset, ev.FeeRate, se.AggregateVersion)

	case event.LiquidityAdded:
		if _, err = tx.ExecContext(ctx, `
			UPDATE projections.pool_states SET
				base_reserve = base_reserve + $2,
				quote_reserve = quote_reserve + $3,
				total_shares = total_shares + $4,
				last_version = $5, updated_at = NOW()
			WHERE pool_id = $1
		`, se.AggregateID, ev.BaseAmount, ev.QuoteAmount, ev.SharesMinted, se.AggregateVersion); err != nil {
			break
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO projections.provider_positions (pool_id, provider_id, shares, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (pool_id, provider_id) DO UPDATE SET
				shares = projections.provider_positions.shares + EXCLUDED.shares,
				updated_at = NOW()
		`, se.AggregateID, ev.ProviderID, ev.SharesMinted)

	case event.LiquidityRemoved:
		// Dust amounts are non-zero only on the final burn; subtracting
		// them forces reserves to exactly zero with the shares.
		if _, err = tx.ExecContext(ctx, `
			UPDATE projections.pool_states SET
				base_reserve = base_reserve - $2 - $3,
				quote_reserve = quote_reserve - $4 - $5,
				total_shares = total_shares - $6,
				last_version = $7, updated_at = NOW()
			WHERE pool_id = $1
		`, se.AggregateID, ev.BaseAmount, ev.DustBase, ev.QuoteAmount, ev.DustQuote, ev.SharesBurned, se.AggregateVersion); err != nil {
			break
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE projections.provider_positions SET
				shares = shares - $3, updated_at = NOW()
			WHERE pool_id = $1 AND provider_id = $2
		`, se.AggregateID, ev.ProviderID, ev.SharesBurned)

	case event.SwapExecuted:
		_, err = tx.ExecContext(ctx, `
			UPDATE projections.pool_states SET
				base_reserve = base_reserve
					+ CASE WHEN base_asset = $2 THEN $3 ELSE -$4 END,
				quote_reserve = quote_reserve
					+ CASE WHEN quote_asset = $2 THEN $3 ELSE -$4 END,
				last_version = $5, updated_at = NOW()
			WHERE pool_id = $1
		`, se.AggregateID, ev.InputAsset, ev.InputAmount, ev.OutputAmount, se.AggregateVersion)

	case event.PoolDeactivated:
		_, err = tx.ExecContext(ctx, `
			UPDATE projections.pool_states SET
				active = FALSE, last_version = $2, updated_at = NOW()
			WHERE pool_id = $1
		`, se.AggregateID, se.AggregateVersion)

	default:
		err = fmt.Errorf("projection: unhandled event type %T", domain)
	}
	if err != nil {
		return fmt.Errorf("apply %s at position %d: %w", se.EventClass, se.Position, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.checkpoints (projection, last_position, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_position = $2, updated_at = NOW()
	`, projection, se.Position); err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) Reset(ctx context.Context, projection string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.pool_states`,
		`TRUNCATE projections.provider_positions`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset projection: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM projections.checkpoints WHERE projection = $1
	`, projection); err != nil {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) PoolByID(ctx context.Context, poolID uuid.UUID) (*PoolRow, error) {
	return s.poolRow(ctx, `WHERE pool_id = $1`, poolID)
}

func (s *PostgresStore) ActivePoolByPair(ctx context.Context, baseAsset, quoteAsset string) (*PoolRow, error) {
	return s.poolRow(ctx, `WHERE base_asset = $1 AND quote_asset = $2 AND active`, baseAsset, quoteAsset)
}

func (s *PostgresStore) poolRow(ctx context.Context, where string, args ...interface{}) (*PoolRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pool_id, base_asset, quote_asset, base_reserve, quote_reserve,
		       total_shares, fee_rate, active, last_version, updated_at
		FROM projections.pool_states `+where, args...)

	var p PoolRow
	err := row.Scan(&p.PoolID, &p.BaseAsset, &p.QuoteAsset, &p.BaseReserve, &p.QuoteReserve,
		&p.TotalShares, &p.FeeRate, &p.Active, &p.LastVersion, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pool row: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) PositionsByPool(ctx context.Context, poolID uuid.UUID) ([]PositionRow, error) {
	return s.positions(ctx, `WHERE pp.pool_id = $1`, poolID)
}

func (s *PostgresStore) PositionsByProvider(ctx context.Context, providerID uuid.UUID) ([]PositionRow, error) {
	return s.positions(ctx, `WHERE pp.provider_id = $1`, providerID)
}

func (s *PostgresStore) positions(ctx context.Context, where string, args ...interface{}) ([]PositionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pp.pool_id, pp.provider_id, pp.shares,
		       CASE WHEN ps.total_shares = 0 THEN 0
		            ELSE ROUND(pp.shares / ps.total_shares * 100, 6) END AS share_percentage
		FROM projections.provider_positions pp
		JOIN projections.pool_states ps ON ps.pool_id = pp.pool_id
		`+where+`
		ORDER BY pp.pool_id, pp.provider_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	defer rows.Close()

	var out []PositionRow
	for rows.Next() {
		var p PositionRow
		if err := rows.Scan(&p.PoolID, &p.ProviderID, &p.Shares, &p.SharePercentage); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
