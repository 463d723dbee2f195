package projection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ammledger/internal/event"
)

type positionKey struct {
	poolID     uuid.UUID
	providerID uuid.UUID
}

// MemoryStore is the in-process projection store with the same
// semantics as the Postgres one, used by unit tests.
type MemoryStore struct {
	mu          sync.Mutex
	checkpoints map[string]int64
	pools       map[uuid.UUID]*PoolRow
	positions   map[positionKey]decimal.Decimal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string]int64),
		pools:       make(map[uuid.UUID]*PoolRow),
		positions:   make(map[positionKey]decimal.Decimal),
	}
}

func (s *MemoryStore) LastPosition(ctx context.Context, projection string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[projection], nil
}

func (s *MemoryStore) Apply(ctx context.Context, projection string, se event.StoredEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if se.Position <= s.checkpoints[projection] {
		return nil
	}

	domain, err := se.Domain()
	if err != nil {
		return err
	}

	switch ev := domain.(type) {
	case event.PoolCreated:
		s.pools[ev.PoolID] = &PoolRow{
			PoolID:       ev.PoolID,
			BaseAsset:    ev.BaseAsset,
			QuoteAsset:   ev.QuoteAsset,
			BaseReserve:  decimal.Zero,
			QuoteReserve: decimal.Zero,
			TotalShares:  decimal.Zero,
			FeeRate:      ev.FeeRate,
			Active:       true,
			LastVersion:  se.AggregateVersion,
			UpdatedAt:    time.Now().UTC(),
		}

	case event.LiquidityAdded:
		p, ok := s.pools[se.AggregateID]
		if !ok {
			return fmt.Errorf("pool %s not projected", se.AggregateID)
		}
		p.BaseReserve = p.BaseReserve.Add(ev.BaseAmount)
		p.QuoteReserve = p.QuoteReserve.Add(ev.QuoteAmount)
		p.TotalShares = p.TotalShares.Add(ev.SharesMinted)
		p.LastVersion = se.AggregateVersion
		key := positionKey{se.AggregateID, ev.ProviderID}
		s.positions[key] = s.positions[key].Add(ev.SharesMinted)

	case event.LiquidityRemoved:
		p, ok := s.pools[se.AggregateID]
		if !ok {
			return fmt.Errorf("pool %s not projected", se.AggregateID)
		}
		p.BaseReserve = p.BaseReserve.Sub(ev.BaseAmount).Sub(ev.DustBase)
		p.QuoteReserve = p.QuoteReserve.Sub(ev.QuoteAmount).Sub(ev.DustQuote)
		p.TotalShares = p.TotalShares.Sub(ev.SharesBurned)
		p.LastVersion = se.AggregateVersion
		key := positionKey{se.AggregateID, ev.ProviderID}
		s.positions[key] = s.positions[key].Sub(ev.SharesBurned)

	case event.SwapExecuted:
		p, ok := s.pools[se.AggregateID]
		if !ok {
			return fmt.Errorf("pool %s not projected", se.AggregateID)
		}
		if ev.InputAsset == p.BaseAsset {
			p.BaseReserve = p.BaseReserve.Add(ev.InputAmount)
			p.QuoteReserve = p.QuoteReserve.Sub(ev.OutputAmount)
		} else {
			p.QuoteReserve = p.QuoteReserve.Add(ev.InputAmount)
			p.BaseReserve = p.BaseReserve.Sub(ev.OutputAmount)
		}
		p.LastVersion = se.AggregateVersion

	case event.PoolDeactivated:
		p, ok := s.pools[se.AggregateID]
		if !ok {
			return fmt.Errorf("pool %s not projected", se.AggregateID)
		}
		p.Active = false
		p.LastVersion = se.AggregateVersion

	default:
		return fmt.Errorf("projection: unhandled event type %T", domain)
	}

	s.checkpoints[projection] = se.Position
	return nil
}

func (s *MemoryStore) Reset(ctx context.Context, projection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools = make(map[uuid.UUID]*PoolRow)
	s.positions = make(map[positionKey]decimal.Decimal)
	delete(s.checkpoints, projection)
	return nil
}

func (s *MemoryStore) PoolByID(ctx context.Context, poolID uuid.UUID) (*PoolRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[poolID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ActivePoolByPair(ctx context.Context, baseAsset, quoteAsset string) (*PoolRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pools {
		if p.Active && p.BaseAsset == baseAsset && p.QuoteAsset == quoteAsset {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) PositionsByPool(ctx context.Context, poolID uuid.UUID) ([]PositionRow, error) {
	return s.filterPositions(ctx, func(k positionKey) bool { return k.poolID == poolID })
}

func (s *MemoryStore) PositionsByProvider(ctx context.Context, providerID uuid.UUID) ([]PositionRow, error) {
	return s.filterPositions(ctx, func(k positionKey) bool { return k.providerID == providerID })
}

func (s *MemoryStore) filterPositions(ctx context.Context, match func(positionKey) bool) ([]PositionRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []PositionRow
	for k, shares := range s.positions {
		if !match(k) {
			continue
		}
		pct := decimal.Zero
		if p, ok := s.pools[k.poolID]; ok && !p.TotalShares.IsZero() {
			pct = shares.Mul(decimal.New(100, 0)).DivRound(p.TotalShares, 6)
		}
		out = append(out, PositionRow{
			PoolID:          k.poolID,
			ProviderID:      k.providerID,
			Shares:          shares,
			SharePercentage: pct,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PoolID != out[j].PoolID {
			return out[i].PoolID.String() < out[j].PoolID.String()
		}
		return out[i].ProviderID.String() < out[j].ProviderID.String()
	})
	return out, nil
}
