package projection_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ammledger/internal/event"
	"ammledger/internal/eventstore"
	"ammledger/internal/pool"
	"ammledger/internal/projection"
	"ammledger/internal/runtime"
	"ammledger/internal/snapshot"
	"ammledger/internal/testutil"
)

func TestPostgresStore_DrainAndQuery(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	events := eventstore.NewPostgresStore(db)
	repo := runtime.NewRepository(events, snapshot.NewPostgresStore(db), runtime.RepositoryConfig{})

	poolID, p1, p2 := uuid.New(), uuid.New(), uuid.New()
	_, _, err := repo.Execute(ctx, poolID, pool.CreatePool{
		PoolID: poolID, BaseAsset: "BTC", QuoteAsset: "USDT", FeeRate: d("0.003"),
	}, event.Metadata{})
	require.NoError(t, err)
	_, _, err = repo.Execute(ctx, poolID, pool.AddLiquidity{
		ProviderID: p1, BaseAmount: d("100"), QuoteAmount: d("400"),
	}, event.Metadata{})
	require.NoError(t, err)
	_, _, err = repo.Execute(ctx, poolID, pool.AddLiquidity{
		ProviderID: p2, BaseAmount: d("50"), QuoteAmount: d("200"),
	}, event.Metadata{})
	require.NoError(t, err)

	store := projection.NewPostgresStore(db)
	engine := projection.NewEngine(testProjection, events, store, projection.EngineConfig{})

	applied, err := engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)

	row, err := store.PoolByID(ctx, poolID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, row.BaseReserve.Equal(d("150")))
	assert.True(t, row.TotalShares.Equal(d("300")))

	positions, err := store.PositionsByPool(ctx, poolID)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	for _, p := range positions {
		switch p.ProviderID {
		case p1:
			assert.True(t, p.SharePercentage.Equal(d("66.666667")), "p1 got %s", p.SharePercentage)
		case p2:
			assert.True(t, p.SharePercentage.Equal(d("33.333333")), "p2 got %s", p.SharePercentage)
		default:
			t.Fatalf("unexpected provider %s", p.ProviderID)
		}
	}

	byPair, err := store.ActivePoolByPair(ctx, "BTC", "USDT")
	require.NoError(t, err)
	require.NotNil(t, byPair)
	assert.Equal(t, poolID, byPair.PoolID)
}

func TestPostgresStore_ApplyIsIdempotentUnderRedelivery(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	events := eventstore.NewPostgresStore(db)
	repo := runtime.NewRepository(events, snapshot.NewPostgresStore(db), runtime.RepositoryConfig{})

	poolID := uuid.New()
	_, _, err := repo.Execute(ctx, poolID, pool.CreatePool{
		PoolID: poolID, BaseAsset: "BTC", QuoteAsset: "USDT", FeeRate: d("0"),
	}, event.Metadata{})
	require.NoError(t, err)
	_, _, err = repo.Execute(ctx, poolID, pool.AddLiquidity{
		ProviderID: uuid.New(), BaseAmount: d("1"), QuoteAmount: d("48000"),
	}, event.Metadata{})
	require.NoError(t, err)

	store := projection.NewPostgresStore(db)
	engine := projection.NewEngine(testProjection, events, store, projection.EngineConfig{})
	_, err = engine.Drain(ctx)
	require.NoError(t, err)

	// Crash-replay: deliver the deposit event a second time.
	all, err := events.ScanAll(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.NoError(t, store.Apply(ctx, testProjection, all[1]))

	row, err := store.PoolByID(ctx, poolID)
	require.NoError(t, err)
	assert.True(t, row.QuoteReserve.Equal(d("48000")), "re-delivery doubled reserves: %s", row.QuoteReserve)
}

// FOR UPDATE on a missing checkpoint row locks nothing, so appliers
// racing on a fresh projection must serialize on the seeded row or the
// first events double-apply.
func TestPostgresStore_ConcurrentBootstrapAppliesOnce(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	events := eventstore.NewPostgresStore(db)
	repo := runtime.NewRepository(events, snapshot.NewPostgresStore(db), runtime.RepositoryConfig{})

	poolID, provider := uuid.New(), uuid.New()
	_, _, err := repo.Execute(ctx, poolID, pool.CreatePool{
		PoolID: poolID, BaseAsset: "BTC", QuoteAsset: "USDT", FeeRate: d("0"),
	}, event.Metadata{})
	require.NoError(t, err)
	_, _, err = repo.Execute(ctx, poolID, pool.AddLiquidity{
		ProviderID: provider, BaseAmount: d("1"), QuoteAmount: d("48000"),
	}, event.Metadata{})
	require.NoError(t, err)

	all, err := events.ScanAll(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)

	store := projection.NewPostgresStore(db)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, se := range all {
				if err := store.Apply(ctx, testProjection, se); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	row, err := store.PoolByID(ctx, poolID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, row.QuoteReserve.Equal(d("48000")), "deposit double-applied: %s", row.QuoteReserve)

	positions, err := store.PositionsByPool(ctx, poolID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Shares.Equal(row.TotalShares), "provider shares diverged from total")
}

func TestPostgresStore_Rebuild(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	events := eventstore.NewPostgresStore(db)
	repo := runtime.NewRepository(events, snapshot.NewPostgresStore(db), runtime.RepositoryConfig{})

	poolID := uuid.New()
	_, _, err := repo.Execute(ctx, poolID, pool.CreatePool{
		PoolID: poolID, BaseAsset: "ETH", QuoteAsset: "USDC", FeeRate: d("0.003"),
	}, event.Metadata{})
	require.NoError(t, err)
	_, _, err = repo.Execute(ctx, poolID, pool.AddLiquidity{
		ProviderID: uuid.New(), BaseAmount: d("10"), QuoteAmount: d("30000"),
	}, event.Metadata{})
	require.NoError(t, err)

	store := projection.NewPostgresStore(db)
	engine := projection.NewEngine(testProjection, events, store, projection.EngineConfig{})
	_, err = engine.Drain(ctx)
	require.NoError(t, err)

	require.NoError(t, engine.Rebuild(ctx))

	row, err := store.PoolByID(ctx, poolID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, row.BaseReserve.Equal(d("10")))

	pos, err := store.LastPosition(ctx, testProjection)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos)
}
