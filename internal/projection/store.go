package projection

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ammledger/internal/event"
)

// PoolRow is the read-optimized pool state.
type PoolRow struct {
	PoolID       uuid.UUID
	BaseAsset    string
	QuoteAsset   string
	BaseReserve  decimal.Decimal
	QuoteReserve decimal.Decimal
	TotalShares  decimal.Decimal
	FeeRate      decimal.Decimal
	Active       bool
	LastVersion  int64
	UpdatedAt    time.Time
}

// PositionRow is one provider's stake in a pool. SharePercentage is
// derived from the pool's total at read time. Rows with zero shares are
// kept, never deleted: a closed position stays auditable.
type PositionRow struct {
	PoolID          uuid.UUID
	ProviderID      uuid.UUID
	Shares          decimal.Decimal
	SharePercentage decimal.Decimal
}

// Store owns the read models and the per-projection checkpoint.
//
// Apply must be idempotent per event: an event at a position at or
// below the checkpoint is a no-op, and the read-model update commits
// atomically with the checkpoint advance so re-delivery after a crash
// cannot double-apply. Everything here is a cache of the event store
// and is rebuilt from scratch via Reset + replay.
type Store interface {
	LastPosition(ctx context.Context, projection string) (int64, error)
	Apply(ctx context.Context, projection string, se event.StoredEvent) error
	Reset(ctx context.Context, projection string) error

	PoolByID(ctx context.Context, poolID uuid.UUID) (*PoolRow, error)
	ActivePoolByPair(ctx context.Context, baseAsset, quoteAsset string) (*PoolRow, error)
	PositionsByPool(ctx context.Context, poolID uuid.UUID) ([]PositionRow, error)
	PositionsByProvider(ctx context.Context, providerID uuid.UUID) ([]PositionRow, error)
}
