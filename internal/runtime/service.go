package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ammledger/internal/event"
	"ammledger/internal/eventstore"
	"ammledger/internal/observability"
	"ammledger/internal/pool"
)

// PoolDirectory resolves the active pool for a normalized asset pair.
// Backed by the pool projection; used to reject duplicate pools at
// creation time. The check is advisory across aggregates (projections
// lag), which is acceptable for an operator-driven create path.
type PoolDirectory interface {
	ActivePoolIDByPair(ctx context.Context, baseAsset, quoteAsset string) (uuid.UUID, bool, error)
}

// Publisher receives committed events for downstream consumers.
// Implementations must not block the command path.
type Publisher interface {
	Publish(aggregateID uuid.UUID, version int64, ev event.Event)
}

// Result is the outcome of an accepted command.
type Result struct {
	AggregateID uuid.UUID
	Version     int64
	Events      []event.Event
}

// CommandService is the command API consumed by the web layer. Each
// method returns the new aggregate version plus the emitted events, or
// a typed domain error.
type CommandService struct {
	repo      *Repository
	directory PoolDirectory
	publisher Publisher

	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewCommandService(repo *Repository, directory PoolDirectory, publisher Publisher, metrics *observability.Metrics) *CommandService {
	return &CommandService{
		repo:      repo,
		directory: directory,
		publisher: publisher,
		log:       observability.NewLogger("command"),
		metrics:   metrics,
	}
}

// CreatePool opens a pool for an unordered asset pair. One active pool
// per pair: a second create for the same pair is rejected.
func (s *CommandService) CreatePool(ctx context.Context, baseAsset, quoteAsset string, feeRate decimal.Decimal, meta event.Metadata) (Result, error) {
	base, quote := pool.NormalizePair(baseAsset, quoteAsset)

	if s.directory != nil {
		_, exists, err := s.directory.ActivePoolIDByPair(ctx, base, quote)
		if err != nil {
			return Result{}, err
		}
		if exists {
			s.reject("create_pool", pool.ErrDuplicatePool)
			return Result{}, pool.ErrDuplicatePool
		}
	}

	poolID := uuid.New()
	return s.execute(ctx, "create_pool", poolID, pool.CreatePool{
		PoolID:     poolID,
		BaseAsset:  base,
		QuoteAsset: quote,
		FeeRate:    feeRate,
	}, meta)
}

func (s *CommandService) AddLiquidity(ctx context.Context, poolID, providerID uuid.UUID, baseAmount, quoteAmount, minShares decimal.Decimal, meta event.Metadata) (Result, error) {
	return s.execute(ctx, "add_liquidity", poolID, pool.AddLiquidity{
		ProviderID:  providerID,
		BaseAmount:  baseAmount,
		QuoteAmount: quoteAmount,
		MinShares:   minShares,
	}, meta)
}

func (s *CommandService) RemoveLiquidity(ctx context.Context, poolID, providerID uuid.UUID, shares, minBaseAmount, minQuoteAmount decimal.Decimal, meta event.Metadata) (Result, error) {
	return s.execute(ctx, "remove_liquidity", poolID, pool.RemoveLiquidity{
		ProviderID:     providerID,
		Shares:         shares,
		MinBaseAmount:  minBaseAmount,
		MinQuoteAmount: minQuoteAmount,
	}, meta)
}

func (s *CommandService) Swap(ctx context.Context, poolID, traderID uuid.UUID, inputAsset string, inputAmount, minOutput decimal.Decimal, meta event.Metadata) (Result, error) {
	return s.execute(ctx, "swap", poolID, pool.Swap{
		TraderID:    traderID,
		InputAsset:  inputAsset,
		InputAmount: inputAmount,
		MinOutput:   minOutput,
	}, meta)
}

func (s *CommandService) DeactivatePool(ctx context.Context, poolID uuid.UUID, reason string, meta event.Metadata) (Result, error) {
	return s.execute(ctx, "deactivate_pool", poolID, pool.DeactivatePool{Reason: reason}, meta)
}

func (s *CommandService) execute(ctx context.Context, name string, aggregateID uuid.UUID, cmd pool.Command, meta event.Metadata) (Result, error) {
	start := time.Now()

	version, events, err := s.repo.Execute(ctx, aggregateID, cmd, meta)
	if s.metrics != nil {
		s.metrics.CommandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.reject(name, err)
		return Result{}, err
	}

	if s.metrics != nil {
		s.metrics.CommandsAccepted.WithLabelValues(name).Inc()
	}

	if s.publisher != nil {
		firstVersion := version - int64(len(events)) + 1
		for i, ev := range events {
			s.publisher.Publish(aggregateID, firstVersion+int64(i), ev)
		}
	}

	return Result{AggregateID: aggregateID, Version: version, Events: events}, nil
}

func (s *CommandService) reject(name string, err error) {
	if s.metrics == nil {
		return
	}
	reason := "storage"
	var domainErr *pool.DomainError
	switch {
	case errors.As(err, &domainErr):
		reason = domainErr.Code
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		reason = "concurrency_conflict"
	}
	s.metrics.CommandsRejected.WithLabelValues(name, reason).Inc()
}
