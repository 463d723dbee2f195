package pool

// DomainError is a terminal command rejection. Retrying a domain error
// re-derives the same rejection from unchanged inputs, so callers must
// surface it unchanged and never retry automatically.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string { return e.Message }

var (
	ErrDuplicatePool = &DomainError{
		Code:    "duplicate_pool",
		Message: "an active pool for this asset pair already exists",
	}
	ErrRatioDeviationTooLarge = &DomainError{
		Code:    "ratio_deviation_too_large",
		Message: "deposit ratio deviates more than the tolerance from the reserve ratio",
	}
	ErrSharesBelowMinimum = &DomainError{
		Code:    "shares_below_minimum",
		Message: "minted shares are below the requested minimum",
	}
	ErrInsufficientShares = &DomainError{
		Code:    "insufficient_shares",
		Message: "provider does not hold the requested shares",
	}
	ErrSlippageExceeded = &DomainError{
		Code:    "slippage_exceeded",
		Message: "returned amount is below the requested minimum",
	}
	ErrPoolNotFound = &DomainError{
		Code:    "pool_not_found",
		Message: "pool has not been created",
	}
	ErrPoolInactive = &DomainError{
		Code:    "pool_inactive",
		Message: "pool is deactivated",
	}
	ErrPoolEmpty = &DomainError{
		Code:    "pool_empty",
		Message: "pool holds no liquidity to trade against",
	}
	ErrInvalidAmount = &DomainError{
		Code:    "invalid_amount",
		Message: "amount must be positive with at most 18 decimal places",
	}
	ErrInvalidFeeRate = &DomainError{
		Code:    "invalid_fee_rate",
		Message: "fee rate must be in [0, 1)",
	}
	ErrInvalidAssetPair = &DomainError{
		Code:    "invalid_asset_pair",
		Message: "pool requires two distinct, non-empty assets",
	}
	ErrUnknownAsset = &DomainError{
		Code:    "unknown_asset",
		Message: "asset is not part of this pool",
	}
)
