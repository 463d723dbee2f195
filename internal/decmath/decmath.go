package decmath

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Scale is the fixed number of decimal places all monetary results are
// produced at. Replaying the same event log must rebuild bit-identical
// state on any machine, so every operation that can produce a
// non-terminating expansion (division, square root) is pinned to this
// scale with an explicit rounding direction.
const Scale int32 = 18

// All helpers here assume non-negative operands. Reserves, shares and
// amounts never go negative in the pool domain; callers validate signs
// before arithmetic.

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

// scaledInt returns floor(d * 10^Scale) as a big integer.
func scaledInt(d decimal.Decimal) *big.Int {
	n := new(big.Int).Set(d.Coefficient())
	e := int64(d.Exponent()) + int64(Scale)
	if e >= 0 {
		return n.Mul(n, pow10(e))
	}
	return n.Quo(n, pow10(-e))
}

func mulDiv(a, b, c decimal.Decimal, roundUp bool) decimal.Decimal {
	num := a.Mul(b)
	nc := new(big.Int).Set(num.Coefficient())
	cc := new(big.Int).Set(c.Coefficient())
	e := int64(num.Exponent()) - int64(c.Exponent()) + int64(Scale)
	if e >= 0 {
		nc.Mul(nc, pow10(e))
	} else {
		cc.Mul(cc, pow10(-e))
	}
	q, r := new(big.Int).QuoRem(nc, cc, new(big.Int))
	if roundUp && r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return decimal.NewFromBigInt(q, -Scale)
}

// MulDivFloor computes a*b/c rounded down to Scale decimal places.
// Used for every payout and share mint so the pool never over-pays
// from reserves or over-mints shares.
func MulDivFloor(a, b, c decimal.Decimal) decimal.Decimal {
	return mulDiv(a, b, c, false)
}

// MulDivCeil computes a*b/c rounded up to Scale decimal places.
// Used for the reserve the pool must retain after a swap, which rounds
// the traded output down by construction.
func MulDivCeil(a, b, c decimal.Decimal) decimal.Decimal {
	return mulDiv(a, b, c, true)
}

// SqrtFloor computes the square root of d rounded down to Scale decimal
// places via integer square root, so the result is identical across
// platforms. Bootstrap share minting depends on this determinism.
func SqrtFloor(d decimal.Decimal) decimal.Decimal {
	// sqrt(v) at Scale places == isqrt(v * 10^(2*Scale)) at 10^-Scale
	n := new(big.Int).Set(d.Coefficient())
	e := int64(d.Exponent()) + 2*int64(Scale)
	if e >= 0 {
		n.Mul(n, pow10(e))
	} else {
		n.Quo(n, pow10(-e))
	}
	return decimal.NewFromBigInt(new(big.Int).Sqrt(n), -Scale)
}
