package runtime_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ammledger/internal/event"
	"ammledger/internal/eventstore"
	"ammledger/internal/pool"
	"ammledger/internal/runtime"
	"ammledger/internal/snapshot"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// conflictingStore wraps a Store and fails the first n Appends with a
// concurrency conflict, simulating a racing writer.
type conflictingStore struct {
	eventstore.Store
	remaining int
	appends   int
}

func (s *conflictingStore) Append(ctx context.Context, aggregateID uuid.UUID, expectedVersion int64, events []event.NewEvent) (int64, error) {
	s.appends++
	if s.remaining > 0 {
		s.remaining--
		return 0, eventstore.ErrConcurrencyConflict
	}
	return s.Store.Append(ctx, aggregateID, expectedVersion, events)
}

func TestRepository_ExecuteAppendsAndReconstructs(t *testing.T) {
	ctx := context.Background()
	events := eventstore.NewMemoryStore()
	repo := runtime.NewRepository(events, snapshot.NewMemoryStore(), runtime.RepositoryConfig{})

	poolID := uuid.New()
	provider := uuid.New()

	v, _, err := repo.Execute(ctx, poolID, pool.CreatePool{
		PoolID: poolID, BaseAsset: "BTC", QuoteAsset: "USDT", FeeRate: d("0.003"),
	}, event.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, emitted, err := repo.Execute(ctx, poolID, pool.AddLiquidity{
		ProviderID: provider, BaseAmount: d("100"), QuoteAmount: d("400"),
	}, event.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	require.Len(t, emitted, 1)

	state, version, err := repo.Reconstruct(ctx, poolID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.True(t, state.BaseReserve.Equal(d("100")))
	assert.True(t, state.TotalShares.Equal(d("200")))
	assert.True(t, state.ProviderShares(provider).Equal(d("200")))
}

func TestRepository_RetriesConflictThenSucceeds(t *testing.T) {
	ctx := context.Background()
	store := &conflictingStore{Store: eventstore.NewMemoryStore(), remaining: 2}
	repo := runtime.NewRepository(store, snapshot.NewMemoryStore(), runtime.RepositoryConfig{MaxRetries: 3})

	poolID := uuid.New()
	v, _, err := repo.Execute(ctx, poolID, pool.CreatePool{
		PoolID: poolID, BaseAsset: "BTC", QuoteAsset: "USDT", FeeRate: d("0.003"),
	}, event.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, 3, store.appends, "two conflicts plus the winning attempt")
}

func TestRepository_ConflictRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	store := &conflictingStore{Store: eventstore.NewMemoryStore(), remaining: 100}
	repo := runtime.NewRepository(store, snapshot.NewMemoryStore(), runtime.RepositoryConfig{MaxRetries: 3})

	poolID := uuid.New()
	_, _, err := repo.Execute(ctx, poolID, pool.CreatePool{
		PoolID: poolID, BaseAsset: "BTC", QuoteAsset: "USDT", FeeRate: d("0.003"),
	}, event.Metadata{})
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
}

func TestRepository_DomainErrorsNotRetried(t *testing.T) {
	ctx := context.Background()
	store := &conflictingStore{Store: eventstore.NewMemoryStore()}
	repo := runtime.NewRepository(store, snapshot.NewMemoryStore(), runtime.RepositoryConfig{})

	poolID := uuid.New()
	_, _, err := repo.Execute(ctx, poolID, pool.CreatePool{
		PoolID: poolID, BaseAsset: "BTC", QuoteAsset: "USDT", FeeRate: d("0.003"),
	}, event.Metadata{})
	require.NoError(t, err)
	appendsAfterCreate := store.appends

	_, _, err = repo.Execute(ctx, poolID, pool.AddLiquidity{
		ProviderID: uuid.New(), BaseAmount: d("-1"), QuoteAmount: d("1"),
	}, event.Metadata{})
	assert.ErrorIs(t, err, pool.ErrInvalidAmount)
	assert.Equal(t, appendsAfterCreate, store.appends, "rejected command must not touch the store")
}

func TestRepository_SnapshotPolicy(t *testing.T) {
	ctx := context.Background()
	events := eventstore.NewMemoryStore()
	snaps := snapshot.NewMemoryStore()
	repo := runtime.NewRepository(events, snaps, runtime.RepositoryConfig{SnapshotInterval: 2})

	poolID := uuid.New()
	provider := uuid.New()

	_, _, err := repo.Execute(ctx, poolID, pool.CreatePool{
		PoolID: poolID, BaseAsset: "BTC", QuoteAsset: "USDT", FeeRate: d("0.003"),
	}, event.Metadata{})
	require.NoError(t, err)
	_, _, err = repo.Execute(ctx, poolID, pool.AddLiquidity{
		ProviderID: provider, BaseAmount: d("100"), QuoteAmount: d("400"),
	}, event.Metadata{})
	require.NoError(t, err)
	repo.WaitSnapshots()

	snap, err := snaps.Load(ctx, poolID)
	require.NoError(t, err)
	require.NotNil(t, snap, "interval reached, snapshot expected")
	assert.GreaterOrEqual(t, snap.AggregateVersion, int64(2))

	// Reconstruction from the snapshot matches a full replay.
	state, version, err := repo.Reconstruct(ctx, poolID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.True(t, state.TotalShares.Equal(d("200")))
	assert.True(t, state.ProviderShares(provider).Equal(d("200")))
}

func TestRepository_ReconstructSurvivesCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	events := eventstore.NewMemoryStore()
	snaps := snapshot.NewMemoryStore()
	repo := runtime.NewRepository(events, snaps, runtime.RepositoryConfig{})

	poolID := uuid.New()
	_, _, err := repo.Execute(ctx, poolID, pool.CreatePool{
		PoolID: poolID, BaseAsset: "BTC", QuoteAsset: "USDT", FeeRate: d("0.003"),
	}, event.Metadata{})
	require.NoError(t, err)

	require.NoError(t, snaps.Save(ctx, snapshot.Snapshot{
		AggregateID:      poolID,
		AggregateVersion: 1,
		State:            []byte(`{not json`),
	}))

	// Falls back to a full replay instead of failing.
	state, version, err := repo.Reconstruct(ctx, poolID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.True(t, state.Created)
}
