package projection_test

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
	"ammledger/internal/projection"
	"ammledger/internal/runtime"
	"ammledger/internal/snapshot"
)

const testProjection = "pool_read_model"

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fixture seeds an event store through the command path: one pool,
// two providers, one swap.
type fixture struct {
	events *eventstore.MemoryStore
	poolID uuid.UUID
	p1, p2 uuid.UUID
}

func seedPool(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	events := eventstore.NewMemoryStore()
	repo := runtime.NewRepository(events, snapshot.NewMemoryStore(), runtime.RepositoryConfig{})

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
	_, _, err = repo.Execute(ctx, poolID, pool.Swap{
		TraderID: uuid.New(), InputAsset: "BTC", InputAmount: d("150"),
	}, event.Metadata{})
	require.NoError(t, err)

	return fixture{events: events, poolID: poolID, p1: p1, p2: p2}
}

func TestEngine_DrainBuildsReadModel(t *testing.T) {
	ctx := context.Background()
	fix := seedPool(t)
	store := projection.NewMemoryStore()
	engine := projection.NewEngine(testProjection, fix.events, store, projection.EngineConfig{BatchSize: 2})

	applied, err := engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, applied)

	row, err := store.PoolByID(ctx, fix.poolID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "BTC", row.BaseAsset)
	assert.True(t, row.Active)
	// 100+50 deposited, +150 swapped in.
	assert.True(t, row.BaseReserve.Equal(d("300")), "base reserve %s", row.BaseReserve)
	assert.True(t, row.TotalShares.Equal(d("300")))
	assert.Equal(t, int64(4), row.LastVersion)

	positions, err := store.PositionsByPool(ctx, fix.poolID)
	require.NoError(t, err)
	require.Len(t, positions, 2)

	byProvider := map[uuid.UUID]projection.PositionRow{}
	for _, p := range positions {
		byProvider[p.ProviderID] = p
	}
	assert.True(t, byProvider[fix.p1].Shares.Equal(d("200")))
	assert.True(t, byProvider[fix.p2].Shares.Equal(d("100")))
	assert.True(t, byProvider[fix.p1].SharePercentage.Equal(d("66.666667")),
		"p1 percentage %s", byProvider[fix.p1].SharePercentage)
	assert.True(t, byProvider[fix.p2].SharePercentage.Equal(d("33.333333")),
		"p2 percentage %s", byProvider[fix.p2].SharePercentage)
}

func TestEngine_DrainIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fix := seedPool(t)
	store := projection.NewMemoryStore()
	engine := projection.NewEngine(testProjection, fix.events, store, projection.EngineConfig{})

	_, err := engine.Drain(ctx)
	require.NoError(t, err)

	applied, err := engine.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied, "second drain must find nothing new")
}

func TestEngine_ReDeliveryIsNoOp(t *testing.T) {
	ctx := context.Background()
	fix := seedPool(t)
	store := projection.NewMemoryStore()
	engine := projection.NewEngine(testProjection, fix.events, store, projection.EngineConfig{})

	_, err := engine.Drain(ctx)
	require.NoError(t, err)

	// Re-apply an already-checkpointed event directly.
	all, err := fix.events.ScanAll(ctx, 0, 0)
	require.NoError(t, err)
	require.NoError(t, store.Apply(ctx, testProjection, all[1]))

	row, err := store.PoolByID(ctx, fix.poolID)
	require.NoError(t, err)
	assert.True(t, row.BaseReserve.Equal(d("300")), "re-delivery changed reserves to %s", row.BaseReserve)
	assert.True(t, row.TotalShares.Equal(d("300")))
}

func TestEngine_Rebuild(t *testing.T) {
	ctx := context.Background()
	fix := seedPool(t)
	store := projection.NewMemoryStore()
	engine := projection.NewEngine(testProjection, fix.events, store, projection.EngineConfig{})

	_, err := engine.Drain(ctx)
	require.NoError(t, err)
	before, err := store.PoolByID(ctx, fix.poolID)
	require.NoError(t, err)

	require.NoError(t, engine.Rebuild(ctx))

	after, err := store.PoolByID(ctx, fix.poolID)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.True(t, before.BaseReserve.Equal(after.BaseReserve))
	assert.True(t, before.QuoteReserve.Equal(after.QuoteReserve))
	assert.True(t, before.TotalShares.Equal(after.TotalShares))

	pos, err := store.LastPosition(ctx, testProjection)
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos)
}

func TestEngine_DeactivationAndDrainToZero(t *testing.T) {
	ctx := context.Background()
	events := eventstore.NewMemoryStore()
	repo := runtime.NewRepository(events, snapshot.NewMemoryStore(), runtime.RepositoryConfig{})

	poolID, provider := uuid.New(), uuid.New()
	_, _, err := repo.Execute(ctx, poolID, pool.CreatePool{
		PoolID: poolID, BaseAsset: "ETH", QuoteAsset: "USDC", FeeRate: d("0"),
	}, event.Metadata{})
	require.NoError(t, err)
	_, _, err = repo.Execute(ctx, poolID, pool.AddLiquidity{
		ProviderID: provider, BaseAmount: d("1"), QuoteAmount: d("9"),
	}, event.Metadata{})
	require.NoError(t, err)
	_, _, err = repo.Execute(ctx, poolID, pool.DeactivatePool{Reason: "retired"}, event.Metadata{})
	require.NoError(t, err)
	_, _, err = repo.Execute(ctx, poolID, pool.RemoveLiquidity{
		ProviderID: provider, Shares: d("3"),
	}, event.Metadata{})
	require.NoError(t, err)

	store := projection.NewMemoryStore()
	engine := projection.NewEngine(testProjection, events, store, projection.EngineConfig{})
	_, err = engine.Drain(ctx)
	require.NoError(t, err)

	row, err := store.PoolByID(ctx, poolID)
	require.NoError(t, err)
	assert.False(t, row.Active)
	assert.True(t, row.BaseReserve.IsZero(), "drained pool base reserve %s", row.BaseReserve)
	assert.True(t, row.QuoteReserve.IsZero())
	assert.True(t, row.TotalShares.IsZero())

	// The emptied position row remains, at zero.
	positions, err := store.PositionsByPool(ctx, poolID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Shares.IsZero())
}
