// ============================================================================
// pricecalc/price.go - sqrtPriceX96 to decimal price
// ============================================================================
package pricecalc

import (
	"encoding/json"
	"math/big"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/constants"
	"github.com/shopspring/decimal"
)

// maxDecimals bounds the exponent accepted from callers. ERC20 decimals fit
// in a uint8 and nothing real goes past 36.
const maxDecimals = 77

var q192 = new(big.Int).Lsh(big.NewInt(1), 192)

// Price is either a fixed-precision decimal or the unpriced marker.
type Price struct {
	value  decimal.Decimal
	places int32
	ok     bool
}

// Unpriced is returned whenever the price cannot be computed.
var Unpriced = Price{}

func (p Price) IsPriced() bool { return p.ok }

// Decimal returns the value and whether the price is set.
func (p Price) Decimal() (decimal.Decimal, bool) {
	return p.value, p.ok
}

func (p Price) String() string {
	if !p.ok {
		return constants.UnpricedMarker
	}
	return p.value.StringFixed(p.places)
}

func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// SqrtX96ToPrice converts a pool's packed square-root price into the price of
// the meme token denominated in the base token.
//
// The pool quotes slot 0 in units of slot 1:
//
//	price0 = sqrtPriceX96^2 * 10^dec0 / (2^192 * 10^dec1)
//
// When the meme token sits in slot 0 the result is price0 fixed to the base
// token's precision; otherwise it is 1/price0 fixed to the meme token's
// precision. Decimals may be given as counts (18) or as exponents (-18).
// The computation is exact integer arithmetic; it never panics.
func SqrtX96ToPrice(sqrtPriceX96 *big.Int, memeDecimals, baseDecimals int, isToken0 bool) Price {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return Unpriced
	}
	meme, base := abs(memeDecimals), abs(baseDecimals)
	if meme > maxDecimals || base > maxDecimals {
		return Unpriced
	}

	dec0, dec1 := base, meme
	if isToken0 {
		dec0, dec1 = meme, base
	}

	// price0 = ratio * 10^dec0 / 10^dec1 for either slot. Swapping the
	// exponents when the meme token is token0 misprices unequal decimals.
	ratio := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	num := new(big.Int).Mul(ratio, pow10(dec0))
	den := new(big.Int).Mul(q192, pow10(dec1))

	if isToken0 {
		return quotient(num, den, base)
	}
	return quotient(den, num, meme)
}

func quotient(num, den *big.Int, places int) Price {
	if den.Sign() == 0 {
		return Unpriced
	}
	v := decimal.NewFromBigInt(num, 0).DivRound(decimal.NewFromBigInt(den, 0), int32(places))
	return Price{value: v, places: int32(places), ok: true}
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
