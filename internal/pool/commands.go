package pool

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Command is the closed set of pool commands. Decide dispatches over
// the full set; an unhandled command type is a programming error.
type Command interface {
	isCommand()
}

// CreatePool opens a pool for an asset pair with a fee rate in [0, 1).
type CreatePool struct {
	PoolID     uuid.UUID
	BaseAsset  string
	QuoteAsset string
	FeeRate    decimal.Decimal
}

// AddLiquidity deposits both assets and mints shares. MinShares is the
// caller's slippage guard on the minted amount.
type AddLiquidity struct {
	ProviderID  uuid.UUID
	BaseAmount  decimal.Decimal
	QuoteAmount decimal.Decimal
	MinShares   decimal.Decimal
}

// RemoveLiquidity burns shares for a proportional payout of both
// reserves. The minimums guard against slippage between quote and
// execution.
type RemoveLiquidity struct {
	ProviderID     uuid.UUID
	Shares         decimal.Decimal
	MinBaseAmount  decimal.Decimal
	MinQuoteAmount decimal.Decimal
}

// Swap trades InputAmount of InputAsset for the opposite asset under
// the constant-product rule with the fee taken from the input.
type Swap struct {
	TraderID    uuid.UUID
	InputAsset  string
	InputAmount decimal.Decimal
	MinOutput   decimal.Decimal
}

// DeactivatePool retires the pool. Liquidity can still be withdrawn
// afterwards; deposits and swaps are rejected.
type DeactivatePool struct {
	Reason string
}

func (CreatePool) isCommand()      {}
func (AddLiquidity) isCommand()    {}
func (RemoveLiquidity) isCommand() {}
func (Swap) isCommand()            {}
func (DeactivatePool) isCommand()  {}
