package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/constants"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const poolABIJSON = `[
	{"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"token1","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"event","name":"Swap","anonymous":false,"inputs":[
		{"indexed":true,"name":"sender","type":"address"},
		{"indexed":true,"name":"recipient","type":"address"},
		{"indexed":false,"name":"amount0","type":"int256"},
		{"indexed":false,"name":"amount1","type":"int256"},
		{"indexed":false,"name":"sqrtPriceX96","type":"uint160"},
		{"indexed":false,"name":"liquidity","type":"uint128"},
		{"indexed":false,"name":"tick","type":"int24"}
	]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	poolABI  = mustABI(poolABIJSON)
	erc20ABI = mustABI(erc20ABIJSON)

	swapTopic = common.HexToHash(constants.SwapV3Topic)
)

func mustABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// swapEvent mirrors the non-indexed Swap fields.
type swapEvent struct {
	Amount0      *big.Int
	Amount1      *big.Int
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         *big.Int
}

// SwapQuery filters Swap logs emitted by pool.
func SwapQuery(pool common.Address) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{pool},
		Topics:    [][]common.Hash{{swapTopic}},
	}
}

// DecodeSwap decodes a pool Swap log.
func DecodeSwap(l types.Log) (models.SwapNotification, error) {
	if len(l.Topics) == 0 || l.Topics[0] != swapTopic {
		return models.SwapNotification{}, fmt.Errorf("not a swap log")
	}

	var ev swapEvent
	if err := poolABI.UnpackIntoInterface(&ev, "Swap", l.Data); err != nil {
		return models.SwapNotification{}, fmt.Errorf("unpack swap: %w", err)
	}

	return models.SwapNotification{
		Pool:         l.Address,
		Amount0:      ev.Amount0,
		Amount1:      ev.Amount1,
		SqrtPriceX96: ev.SqrtPriceX96,
		TxHash:       l.TxHash,
		BlockNumber:  l.BlockNumber,
		LogIndex:     l.Index,
	}, nil
}
