package pool

import (
	"fmt"

	"github.com/shopspring/decimal"

	"ammledger/internal/decmath"
	"ammledger/internal/event"
)

// ratioTolerance is the maximum relative deviation between the deposit
// ratio and the reserve ratio for a follow-up deposit (1%). The guard
// protects providers from accidental mispricing against the pool.
var ratioTolerance = decimal.New(1, -2)

// Decide derives the events a command produces from the current state.
// It is pure: no clock, no I/O, no mutation of s. It is safe to re-run
// under concurrency-conflict retries.
func Decide(s State, cmd Command) ([]event.Event, error) {
	switch c := cmd.(type) {
	case CreatePool:
		return decideCreatePool(s, c)
	case AddLiquidity:
		return decideAddLiquidity(s, c)
	case RemoveLiquidity:
		return decideRemoveLiquidity(s, c)
	case Swap:
		return decideSwap(s, c)
	case DeactivatePool:
		return decideDeactivatePool(s, c)
	default:
		panic(fmt.Sprintf("pool.Decide: unhandled command type %T", cmd))
	}
}

func decideCreatePool(s State, c CreatePool) ([]event.Event, error) {
	if s.Created {
		return nil, ErrDuplicatePool
	}
	base, quote := NormalizePair(c.BaseAsset, c.QuoteAsset)
	if base == "" || quote == "" || base == quote {
		return nil, ErrInvalidAssetPair
	}
	if c.FeeRate.IsNegative() || c.FeeRate.GreaterThanOrEqual(decimal.New(1, 0)) {
		return nil, ErrInvalidFeeRate
	}
	if !validScale(c.FeeRate) {
		return nil, ErrInvalidFeeRate
	}
	return []event.Event{event.PoolCreated{
		PoolID:     c.PoolID,
		BaseAsset:  base,
		QuoteAsset: quote,
		FeeRate:    c.FeeRate,
	}}, nil
}

func decideAddLiquidity(s State, c AddLiquidity) ([]event.Event, error) {
	if !s.Created {
		return nil, ErrPoolNotFound
	}
	if !s.Active {
		return nil, ErrPoolInactive
	}
	if !validAmount(c.BaseAmount) || !validAmount(c.QuoteAmount) {
		return nil, ErrInvalidAmount
	}

	var minted decimal.Decimal
	if s.TotalShares.IsZero() {
		// Bootstrap mint: geometric mean of the deposit, the measure
		// consistent with the constant-product invariant. Computed via
		// integer square root so replay is identical everywhere.
		minted = decmath.SqrtFloor(c.BaseAmount.Mul(c.QuoteAmount))
	} else {
		// Cross-multiplied ratio guard, division-free:
		// |b*Q - q*B| <= tol * q*B  <=>  |b/q - B/Q| / (B/Q) <= tol
		left := c.BaseAmount.Mul(s.QuoteReserve)
		right := c.QuoteAmount.Mul(s.BaseReserve)
		if left.Sub(right).Abs().GreaterThan(ratioTolerance.Mul(right)) {
			return nil, ErrRatioDeviationTooLarge
		}

		// Proportional issuance on the limiting side, floored, so a
		// slightly unbalanced deposit can never over-mint.
		fromBase := decmath.MulDivFloor(s.TotalShares, c.BaseAmount, s.BaseReserve)
		fromQuote := decmath.MulDivFloor(s.TotalShares, c.QuoteAmount, s.QuoteReserve)
		minted = decimal.Min(fromBase, fromQuote)
	}

	if minted.IsZero() || minted.LessThan(c.MinShares) {
		return nil, ErrSharesBelowMinimum
	}

	return []event.Event{event.LiquidityAdded{
		ProviderID:   c.ProviderID,
		BaseAmount:   c.BaseAmount,
		QuoteAmount:  c.QuoteAmount,
		SharesMinted: minted,
	}}, nil
}

func decideRemoveLiquidity(s State, c RemoveLiquidity) ([]event.Event, error) {
	if !s.Created {
		return nil, ErrPoolNotFound
	}
	// Withdrawals stay possible after deactivation so providers can
	// always exit a retired pool.
	if !validAmount(c.Shares) {
		return nil, ErrInvalidAmount
	}
	if c.Shares.GreaterThan(s.ProviderShares(c.ProviderID)) {
		return nil, ErrInsufficientShares
	}

	// Floor both payouts so the pool never pays out more than the
	// proportional claim.
	baseOut := decmath.MulDivFloor(s.BaseReserve, c.Shares, s.TotalShares)
	quoteOut := decmath.MulDivFloor(s.QuoteReserve, c.Shares, s.TotalShares)

	if baseOut.LessThan(c.MinBaseAmount) || quoteOut.LessThan(c.MinQuoteAmount) {
		return nil, ErrSlippageExceeded
	}

	ev := event.LiquidityRemoved{
		ProviderID:   c.ProviderID,
		BaseAmount:   baseOut,
		QuoteAmount:  quoteOut,
		SharesBurned: c.Shares,
		DustBase:     decimal.Zero,
		DustQuote:    decimal.Zero,
	}
	// Last withdrawal: reserves are forced to exactly zero and the
	// floor-rounding remainder is recorded as swept dust, never lost.
	if c.Shares.Equal(s.TotalShares) {
		ev.DustBase = s.BaseReserve.Sub(baseOut)
		ev.DustQuote = s.QuoteReserve.Sub(quoteOut)
	}
	return []event.Event{ev}, nil
}

func decideSwap(s State, c Swap) ([]event.Event, error) {
	if !s.Created {
		return nil, ErrPoolNotFound
	}
	if !s.Active {
		return nil, ErrPoolInactive
	}
	if !validAmount(c.InputAmount) {
		return nil, ErrInvalidAmount
	}
	if s.TotalShares.IsZero() {
		return nil, ErrPoolEmpty
	}

	var inReserve, outReserve decimal.Decimal
	var outAsset string
	switch c.InputAsset {
	case s.BaseAsset:
		inReserve, outReserve, outAsset = s.BaseReserve, s.QuoteReserve, s.QuoteAsset
	case s.QuoteAsset:
		inReserve, outReserve, outAsset = s.QuoteReserve, s.BaseReserve, s.BaseAsset
	default:
		return nil, ErrUnknownAsset
	}

	// Constant product with fee on the input side:
	//   out = outR - (inR * outR) / (inR + in*(1-fee))
	// The retained reserve rounds up, so the traded output rounds down
	// and inR' * outR' >= inR * outR holds across every swap.
	effectiveIn := c.InputAmount.Mul(decimal.New(1, 0).Sub(s.FeeRate))
	retained := decmath.MulDivCeil(inReserve, outReserve, inReserve.Add(effectiveIn))
	output := outReserve.Sub(retained)

	if output.Sign() <= 0 || output.LessThan(c.MinOutput) {
		return nil, ErrSlippageExceeded
	}

	return []event.Event{event.SwapExecuted{
		TraderID:     c.TraderID,
		InputAsset:   c.InputAsset,
		OutputAsset:  outAsset,
		InputAmount:  c.InputAmount,
		OutputAmount: output,
		FeeAmount:    c.InputAmount.Mul(s.FeeRate).Truncate(decmath.Scale),
	}}, nil
}

func decideDeactivatePool(s State, c DeactivatePool) ([]event.Event, error) {
	if !s.Created {
		return nil, ErrPoolNotFound
	}
	if !s.Active {
		return nil, ErrPoolInactive
	}
	return []event.Event{event.PoolDeactivated{Reason: c.Reason}}, nil
}

// validAmount accepts positive amounts representable at the fixed scale.
// Rejecting excess precision up front keeps every derived value exact.
func validAmount(d decimal.Decimal) bool {
	return d.Sign() > 0 && validScale(d)
}

func validScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(decmath.Scale))
}
