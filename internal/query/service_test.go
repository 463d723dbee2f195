package query_test

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
	"ammledger/internal/query"
	"ammledger/internal/runtime"
	"ammledger/internal/snapshot"
)

const testProjection = "pool_read_model"

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// world wires the full read path: commands -> event store -> projection.
func world(t *testing.T) (*query.Service, *runtime.CommandService, *projection.Engine) {
	t.Helper()
	events := eventstore.NewMemoryStore()
	projStore := projection.NewMemoryStore()
	repo := runtime.NewRepository(events, snapshot.NewMemoryStore(), runtime.RepositoryConfig{})
	commands := runtime.NewCommandService(repo, query.NewDirectory(projStore), nil, nil)
	engine := projection.NewEngine(testProjection, events, projStore, projection.EngineConfig{})
	return query.NewService(events, projStore, testProjection), commands, engine
}

func TestService_PoolLookups(t *testing.T) {
	ctx := context.Background()
	queries, commands, engine := world(t)

	created, err := commands.CreatePool(ctx, "btc", "usdt", d("0.003"), event.Metadata{})
	require.NoError(t, err)
	provider := uuid.New()
	_, err = commands.AddLiquidity(ctx, created.AggregateID, provider, d("1"), d("48000"), d("0"), event.Metadata{})
	require.NoError(t, err)
	_, err = engine.Drain(ctx)
	require.NoError(t, err)

	row, err := queries.GetPool(ctx, created.AggregateID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, row.QuoteReserve.Equal(d("48000")))

	// Pair lookup is order-insensitive.
	byPair, err := queries.GetPoolByPair(ctx, "USDT", "btc")
	require.NoError(t, err)
	require.NotNil(t, byPair)
	assert.Equal(t, created.AggregateID, byPair.PoolID)

	missing, err := queries.GetPool(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	positions, err := queries.GetProviderPositions(ctx, provider)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].SharePercentage.Equal(d("100")),
		"sole provider owns everything, got %s", positions[0].SharePercentage)
}

func TestService_DeactivatedPoolLeavesPairFree(t *testing.T) {
	ctx := context.Background()
	queries, commands, engine := world(t)

	created, err := commands.CreatePool(ctx, "eth", "usdc", d("0.003"), event.Metadata{})
	require.NoError(t, err)
	_, err = commands.DeactivatePool(ctx, created.AggregateID, "retired", event.Metadata{})
	require.NoError(t, err)
	_, err = engine.Drain(ctx)
	require.NoError(t, err)

	byPair, err := queries.GetPoolByPair(ctx, "ETH", "USDC")
	require.NoError(t, err)
	assert.Nil(t, byPair, "deactivated pool must not claim the pair")

	// And the directory lets a replacement pool in.
	_, err = commands.CreatePool(ctx, "eth", "usdc", d("0.001"), event.Metadata{})
	assert.NoError(t, err)
}

func TestService_EventHistoryAndFreshness(t *testing.T) {
	ctx := context.Background()
	queries, commands, engine := world(t)

	created, err := commands.CreatePool(ctx, "btc", "usdt", d("0.003"), event.Metadata{})
	require.NoError(t, err)
	_, err = commands.AddLiquidity(ctx, created.AggregateID, uuid.New(), d("1"), d("48000"), d("0"), event.Metadata{})
	require.NoError(t, err)

	history, err := queries.GetEventHistory(ctx, created.AggregateID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, event.ClassPoolCreated, history[0].EventClass)
	assert.Equal(t, event.ClassLiquidityAdded, history[1].EventClass)

	// History reads bypass the projection: positions lag until drained.
	pos, err := queries.LastAppliedPosition(ctx)
	require.NoError(t, err)
	assert.Zero(t, pos)

	_, err = engine.Drain(ctx)
	require.NoError(t, err)

	pos, err = queries.LastAppliedPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos)
}

func TestDirectory_BlocksDuplicateActivePair(t *testing.T) {
	ctx := context.Background()
	_, commands, engine := world(t)

	_, err := commands.CreatePool(ctx, "btc", "usdt", d("0.003"), event.Metadata{})
	require.NoError(t, err)
	_, err = engine.Drain(ctx)
	require.NoError(t, err)

	_, err = commands.CreatePool(ctx, "usdt", "btc", d("0.01"), event.Metadata{})
	assert.ErrorIs(t, err, pool.ErrDuplicatePool)
}
