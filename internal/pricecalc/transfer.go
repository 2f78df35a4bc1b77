package pricecalc

import (
	"math/big"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/constants"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var transferTopic = common.HexToHash(constants.TransferTopic)

// HighestTransferAmount scans receipt logs for ERC20 Transfer events sent by
// pool and returns the largest transferred amount, never less than fallback.
// When no match exceeds fallback it returns fallback unchanged.
func HighestTransferAmount(logs []types.Log, pool common.Address, fallback *big.Int) *big.Int {
	matching := lo.Filter(logs, func(l types.Log, _ int) bool {
		return isTransferFrom(l, pool)
	})

	highest := fallback
	for _, l := range matching {
		amount := new(big.Int).SetBytes(l.Data)
		if highest == nil || amount.Cmp(highest) > 0 {
			highest = amount
		}
	}
	return highest
}

func isTransferFrom(l types.Log, from common.Address) bool {
	if len(l.Topics) < 2 || l.Topics[0] != transferTopic {
		return false
	}
	return common.BytesToAddress(l.Topics[1].Bytes()) == from
}

// FormatAmount renders a raw integer token quantity with the given number of
// fractional digits.
func FormatAmount(raw *big.Int, decimals uint8, places int32) string {
	if raw == nil {
		return decimal.Zero.StringFixed(places)
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).StringFixed(places)
}
