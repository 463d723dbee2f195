package pool

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State is the pool aggregate reconstructed by folding its event history.
// It exists only in memory; the durable form is the event stream.
//
// The per-provider share ledger lives inside the aggregate so that
// withdrawal checks are pure: no external balance lookup is part of a
// decision. The sum of provider shares equals TotalShares after every
// event.
type State struct {
	PoolID     uuid.UUID `json:"pool_id"`
	BaseAsset  string    `json:"base_asset"`
	QuoteAsset string    `json:"quote_asset"`

	BaseReserve  decimal.Decimal `json:"base_reserve"`
	QuoteReserve decimal.Decimal `json:"quote_reserve"`
	TotalShares  decimal.Decimal `json:"total_shares"`
	FeeRate      decimal.Decimal `json:"fee_rate"`

	Created bool `json:"created"`
	Active  bool `json:"active"`

	// Provider UUID string -> shares held. Entries drop to zero on full
	// withdrawal but are never deleted, matching the projection's
	// zero-share audit rows.
	Providers map[string]decimal.Decimal `json:"providers"`
}

// InitialState returns the Uninitialized pool state.
func InitialState() State {
	return State{
		BaseReserve:  decimal.Zero,
		QuoteReserve: decimal.Zero,
		TotalShares:  decimal.Zero,
		FeeRate:      decimal.Zero,
		Providers:    map[string]decimal.Decimal{},
	}
}

// ProviderShares returns the shares held by a provider, zero if none.
func (s State) ProviderShares(providerID uuid.UUID) decimal.Decimal {
	if v, ok := s.Providers[providerID.String()]; ok {
		return v
	}
	return decimal.Zero
}

func (s State) clone() State {
	out := s
	out.Providers = make(map[string]decimal.Decimal, len(s.Providers))
	for k, v := range s.Providers {
		out.Providers[k] = v
	}
	return out
}

// NormalizePair orders an unordered asset pair lexicographically. One
// active pool exists per normalized pair at a time.
func NormalizePair(a, b string) (base, quote string) {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))
	if a > b {
		return b, a
	}
	return a, b
}
