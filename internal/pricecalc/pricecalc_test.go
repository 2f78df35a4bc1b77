package pricecalc

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// WETH/USDC 0.05% pool on Base, tx 0x3dd1f721...0cde.
// token0 = WETH (18 decimals), token1 = USDC (6 decimals).
var (
	pool      = common.HexToAddress("0xd0b53d9277642d899df5c87a3966a349a798f224")
	sqrtPrice = mustBig("3519190486474440538307992")
)

func mustBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big int " + s)
	}
	return n
}

func transferLog(from common.Address, amount *big.Int) types.Log {
	return types.Log{
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(common.HexToAddress("0xf0DA03E41B60F05ddF2F7C8007ECc3936C9a1b98").Bytes()),
		},
		Data: common.LeftPadBytes(amount.Bytes(), 32),
	}
}

func TestSqrtX96ToPrice_MemeInSlotOne(t *testing.T) {
	// USDC is the meme token in slot 1, priced in WETH.
	price := SqrtX96ToPrice(sqrtPrice, -6, -18, false)
	require.True(t, price.IsPriced())

	v, ok := price.Decimal()
	require.True(t, ok)
	assert.True(t, v.GreaterThan(decimal.RequireFromString("0.0004")), "got %s", price)
	assert.True(t, v.LessThan(decimal.RequireFromString("0.0007")), "got %s", price)
	assert.Equal(t, "0.000507", price.String())
}

func TestSqrtX96ToPrice_DecimalSignConventions(t *testing.T) {
	assert.Equal(t,
		SqrtX96ToPrice(sqrtPrice, -6, -18, false).String(),
		SqrtX96ToPrice(sqrtPrice, 6, 18, false).String(),
	)
}

func TestSqrtX96ToPrice_MemeInSlotZero(t *testing.T) {
	// WETH as the meme token in slot 0, priced in USDC. Both orderings scale
	// the raw ratio by 10^dec0/10^dec1, so slot 0 yields raw*10^meme/10^base.
	// Inverting that exponent would drift by 10^24 here and fail this check.
	price := SqrtX96ToPrice(sqrtPrice, 18, 6, true)
	require.True(t, price.IsPriced())
	assert.Equal(t, "1972.996807", price.String())
}

func TestSqrtX96ToPrice_Unpriced(t *testing.T) {
	tests := []struct {
		name string
		sqrt *big.Int
		meme int
		base int
	}{
		{"nil", nil, 6, 18},
		{"zero", big.NewInt(0), 6, 18},
		{"negative", big.NewInt(-5), 6, 18},
		{"absurd decimals", sqrtPrice, 1000, 18},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var price Price
			assert.NotPanics(t, func() {
				price = SqrtX96ToPrice(tt.sqrt, tt.meme, tt.base, true)
			})
			assert.False(t, price.IsPriced())
			assert.Equal(t, "NaN", price.String())
		})
	}
}

func TestPrice_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(SqrtX96ToPrice(sqrtPrice, 6, 18, false))
	require.NoError(t, err)
	assert.JSONEq(t, `"0.000507"`, string(b))

	b, err = json.Marshal(Unpriced)
	require.NoError(t, err)
	assert.JSONEq(t, `"NaN"`, string(b))
}

func TestHighestTransferAmount_MatchingLog(t *testing.T) {
	amount := big.NewInt(15263362)
	got := HighestTransferAmount([]types.Log{transferLog(pool, amount)}, pool, big.NewInt(0))
	assert.Equal(t, 0, got.Cmp(amount))
}

func TestHighestTransferAmount_Fallback(t *testing.T) {
	fallback := big.NewInt(999)
	dead := common.HexToAddress("0x000000000000000000000000000000000000dead")

	got := HighestTransferAmount([]types.Log{transferLog(dead, big.NewInt(9999))}, pool, fallback)
	assert.Same(t, fallback, got)

	got = HighestTransferAmount(nil, pool, fallback)
	assert.Same(t, fallback, got)
}

func TestHighestTransferAmount_MaxWins(t *testing.T) {
	other := types.Log{
		Topics: []common.Hash{common.HexToHash("0x01"), common.BytesToHash(pool.Bytes())},
		Data:   common.LeftPadBytes(big.NewInt(1_000_000_000).Bytes(), 32),
	}
	logs := []types.Log{
		transferLog(pool, big.NewInt(100)),
		other,
		transferLog(pool, big.NewInt(15263362)),
		transferLog(pool, big.NewInt(5)),
	}

	got := HighestTransferAmount(logs, pool, big.NewInt(1))
	assert.Equal(t, int64(15263362), got.Int64())
}

func TestHighestTransferAmount_FallbackIsFloor(t *testing.T) {
	fallback := big.NewInt(1000)
	logs := []types.Log{
		transferLog(pool, big.NewInt(100)),
		transferLog(pool, big.NewInt(999)),
	}

	got := HighestTransferAmount(logs, pool, fallback)
	assert.Same(t, fallback, got)
	assert.Equal(t, int64(1000), got.Int64())
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "15.263", FormatAmount(big.NewInt(15263362), 6, 3))
	assert.Equal(t, "0.0077", FormatAmount(big.NewInt(7740000000000000), 18, 4))
	assert.Equal(t, "0.000", FormatAmount(nil, 18, 3))
	assert.Equal(t, "500.000", FormatAmount(big.NewInt(500_000_000), 6, 3))
}
