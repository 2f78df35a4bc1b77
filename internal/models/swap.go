// ============================================================================
// models/swap.go
// ============================================================================
package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SwapNotification is a decoded pool Swap event. Amounts are signed from the
// pool's point of view: negative means tokens left the pool.
type SwapNotification struct {
	Pool         common.Address
	Amount0      *big.Int
	Amount1      *big.Int
	SqrtPriceX96 *big.Int
	TxHash       common.Hash
	BlockNumber  uint64
	LogIndex     uint
}

// Receipt is the subset of a transaction receipt the processor needs.
type Receipt struct {
	TxHash common.Hash
	From   common.Address
	Logs   []types.Log
}

// TradeResult is an enriched buy, published on the buys channel.
type TradeResult struct {
	TotalTokensPurchased string `json:"totalTokensPurchased"`
	AmountReceived       string `json:"amountReceived"`
	Cost                 string `json:"cost"`
	UserBalance          string `json:"userBalance"`
	TokenPrice           string `json:"tokenPrice"`
	Pair                 string `json:"pair"`
	TokenContract        string `json:"tokenContract"`
	Sender               string `json:"sender"`
	TxnHash              string `json:"txnHash"`
	Version              string `json:"version"`
	Chain                string `json:"chain"`
}

// PartitionKey keeps every buy of one pair in order on keyed transports.
func (t TradeResult) PartitionKey() string { return t.Pair }
