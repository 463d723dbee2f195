package event

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type discriminates pool event payloads. The set is closed: every
// variant handled here has a payload struct below, and the codec
// dispatches over the full set with an exhaustive switch.
type Type int32

const (
	TypeUnknown Type = iota
	TypePoolCreated
	TypeLiquidityAdded
	TypeLiquidityRemoved
	TypeSwapExecuted
	TypePoolDeactivated
)

// Event is the interface all pool event payloads implement.
type Event interface {
	// EventType returns the discriminator
	EventType() Type
}

// PoolCreated opens a pool for an unordered asset pair.
// BaseAsset/QuoteAsset are stored in normalized (lexicographic) order.
type PoolCreated struct {
	PoolID     uuid.UUID       `json:"pool_id"`
	BaseAsset  string          `json:"base_asset"`
	QuoteAsset string          `json:"quote_asset"`
	FeeRate    decimal.Decimal `json:"fee_rate"`
}

// LiquidityAdded mints shares against a deposit of both assets.
type LiquidityAdded struct {
	ProviderID   uuid.UUID       `json:"provider_id"`
	BaseAmount   decimal.Decimal `json:"base_amount"`
	QuoteAmount  decimal.Decimal `json:"quote_amount"`
	SharesMinted decimal.Decimal `json:"shares_minted"`
}

// LiquidityRemoved burns shares and pays out the proportional reserves.
// Dust amounts are non-zero only when the last shares are burned and the
// floor-rounded payout leaves a remainder, which is swept rather than lost.
type LiquidityRemoved struct {
	ProviderID   uuid.UUID       `json:"provider_id"`
	BaseAmount   decimal.Decimal `json:"base_amount"`
	QuoteAmount  decimal.Decimal `json:"quote_amount"`
	SharesBurned decimal.Decimal `json:"shares_burned"`
	DustBase     decimal.Decimal `json:"dust_base"`
	DustQuote    decimal.Decimal `json:"dust_quote"`
}

// SwapExecuted trades InputAmount of InputAsset for OutputAmount of the
// opposite asset under the constant-product rule, fee taken from the input.
type SwapExecuted struct {
	TraderID     uuid.UUID       `json:"trader_id"`
	InputAsset   string          `json:"input_asset"`
	OutputAsset  string          `json:"output_asset"`
	InputAmount  decimal.Decimal `json:"input_amount"`
	OutputAmount decimal.Decimal `json:"output_amount"`
	FeeAmount    decimal.Decimal `json:"fee_amount"`
}

// PoolDeactivated retires the pool. A deactivated pool rejects all
// further commands; its pair may be reused by a new pool.
type PoolDeactivated struct {
	Reason string `json:"reason"`
}

func (PoolCreated) EventType() Type      { return TypePoolCreated }
func (LiquidityAdded) EventType() Type   { return TypeLiquidityAdded }
func (LiquidityRemoved) EventType() Type { return TypeLiquidityRemoved }
func (SwapExecuted) EventType() Type     { return TypeSwapExecuted }
func (PoolDeactivated) EventType() Type  { return TypePoolDeactivated }

func (t Type) String() string {
	switch t {
	case TypePoolCreated:
		return "PoolCreated"
	case TypeLiquidityAdded:
		return "LiquidityAdded"
	case TypeLiquidityRemoved:
		return "LiquidityRemoved"
	case TypeSwapExecuted:
		return "SwapExecuted"
	case TypePoolDeactivated:
		return "PoolDeactivated"
	default:
		return "Unknown"
	}
}
