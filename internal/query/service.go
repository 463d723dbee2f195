package query

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"ammledger/internal/event"
	"ammledger/internal/eventstore"
	"ammledger/internal/pool"
	"ammledger/internal/projection"
)

// Service is the read-only query API over the projection read models,
// plus raw event history for audit trails. Readers tolerate eventual
// consistency; LastAppliedPosition exposes the projection's cursor for
// consumers that need to reason about freshness.
type Service struct {
	events     eventstore.Store
	store      projection.Store
	projection string
}

func NewService(events eventstore.Store, store projection.Store, projectionName string) *Service {
	return &Service{events: events, store: store, projection: projectionName}
}

// GetPool returns the pool read row, or nil if unknown.
func (s *Service) GetPool(ctx context.Context, poolID uuid.UUID) (*projection.PoolRow, error) {
	return s.store.PoolByID(ctx, poolID)
}

// GetPoolByPair returns the active pool for an unordered asset pair,
// or nil if none is active.
func (s *Service) GetPoolByPair(ctx context.Context, assetA, assetB string) (*projection.PoolRow, error) {
	base, quote := pool.NormalizePair(assetA, assetB)
	return s.store.ActivePoolByPair(ctx, base, quote)
}

// GetPoolPositions returns every provider position in a pool,
// zero-share rows included.
func (s *Service) GetPoolPositions(ctx context.Context, poolID uuid.UUID) ([]projection.PositionRow, error) {
	return s.store.PositionsByPool(ctx, poolID)
}

// GetProviderPositions returns a provider's positions across pools.
func (s *Service) GetProviderPositions(ctx context.Context, providerID uuid.UUID) ([]projection.PositionRow, error) {
	return s.store.PositionsByProvider(ctx, providerID)
}

// GetEventHistory returns the aggregate's raw stored events for audit,
// straight from the event store (never from a projection).
func (s *Service) GetEventHistory(ctx context.Context, aggregateID uuid.UUID, fromVersion int64) ([]event.StoredEvent, error) {
	return s.events.Load(ctx, aggregateID, fromVersion)
}

// LastAppliedPosition returns the projection's last applied global
// event position.
func (s *Service) LastAppliedPosition(ctx context.Context) (int64, error) {
	return s.store.LastPosition(ctx, s.projection)
}

// Directory adapts the projection store to the command service's
// duplicate-pair check.
type Directory struct {
	store projection.Store
}

func NewDirectory(store projection.Store) *Directory {
	return &Directory{store: store}
}

func (d *Directory) ActivePoolIDByPair(ctx context.Context, baseAsset, quoteAsset string) (uuid.UUID, bool, error) {
	row, err := d.store.ActivePoolByPair(ctx, baseAsset, quoteAsset)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("pool directory lookup: %w", err)
	}
	if row == nil {
		return uuid.Nil, false, nil
	}
	return row.PoolID, true, nil
}
