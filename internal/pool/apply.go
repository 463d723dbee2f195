package pool

import (
	"fmt"

	"ammledger/internal/event"
)

// Apply folds one event into the state, returning the next state.
// Pure and total over the closed event set: replaying the same log
// always rebuilds bit-identical state.
func Apply(s State, ev event.Event) State {
	switch e := ev.(type) {
	case event.PoolCreated:
		next := InitialState()
		next.PoolID = e.PoolID
		next.BaseAsset = e.BaseAsset
		next.QuoteAsset = e.QuoteAsset
		next.FeeRate = e.FeeRate
		next.Created = true
		next.Active = true
		return next

	case event.LiquidityAdded:
		next := s.clone()
		if s.TotalShares.IsZero() {
			// First deposit fixes the reserves exactly.
			next.BaseReserve = e.BaseAmount
			next.QuoteReserve = e.QuoteAmount
		} else {
			next.BaseReserve = s.BaseReserve.Add(e.BaseAmount)
			next.QuoteReserve = s.QuoteReserve.Add(e.QuoteAmount)
		}
		next.TotalShares = s.TotalShares.Add(e.SharesMinted)
		key := e.ProviderID.String()
		next.Providers[key] = s.ProviderShares(e.ProviderID).Add(e.SharesMinted)
		return next

	case event.LiquidityRemoved:
		next := s.clone()
		next.TotalShares = s.TotalShares.Sub(e.SharesBurned)
		next.BaseReserve = s.BaseReserve.Sub(e.BaseAmount)
		next.QuoteReserve = s.QuoteReserve.Sub(e.QuoteAmount)
		if next.TotalShares.IsZero() {
			// Pool fully drained: dust was swept on the event, the
			// invariant "no shares <=> no reserves" holds exactly.
			next.BaseReserve = next.BaseReserve.Sub(e.DustBase)
			next.QuoteReserve = next.QuoteReserve.Sub(e.DustQuote)
		}
		key := e.ProviderID.String()
		next.Providers[key] = s.ProviderShares(e.ProviderID).Sub(e.SharesBurned)
		return next

	case event.SwapExecuted:
		next := s.clone()
		if e.InputAsset == s.BaseAsset {
			next.BaseReserve = s.BaseReserve.Add(e.InputAmount)
			next.QuoteReserve = s.QuoteReserve.Sub(e.OutputAmount)
		} else {
			next.QuoteReserve = s.QuoteReserve.Add(e.InputAmount)
			next.BaseReserve = s.BaseReserve.Sub(e.OutputAmount)
		}
		return next

	case event.PoolDeactivated:
		next := s.clone()
		next.Active = false
		return next

	default:
		panic(fmt.Sprintf("pool.Apply: unhandled event type %T", ev))
	}
}

// Replay folds a sequence of events from an initial state.
func Replay(s State, events []event.Event) State {
	for _, ev := range events {
		s = Apply(s, ev)
	}
	return s
}
