// ============================================================================
// swap/processor.go - Swap event to trade resolution
// ============================================================================
package swap

import (
	"context"
	"errors"
	"math/big"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/constants"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/pricecalc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ReceiptSource fetches transaction receipts.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*models.Receipt, error)
}

// BalanceReader queries a single token's balances.
type BalanceReader interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
}

// ErrorFunc reports a non-fatal failure with metadata (context, txHash, buyer).
type ErrorFunc func(ctx context.Context, err error, meta map[string]string)

// Context carries everything needed to resolve one pool's swap events.
type Context struct {
	Pair              string
	PairAddress       common.Address
	MemeTokenAddress  string
	BaseTokenAddress  string
	MemeDecimals      uint8
	BaseDecimals      uint8
	Ordering          int // slot of the meme token, 0 or 1
	Chain             string
	Receipts          ReceiptSource
	MemeToken         BalanceReader
	MinAmountReceived decimal.Decimal
	OnError           ErrorFunc
	Logger            *logrus.Logger
}

// ErrMalformedEvent is returned for notifications missing amounts.
var ErrMalformedEvent = errors.New("malformed swap notification")

// IsBuy reports whether a resolved token amount is a buy. Tokens leaving the
// pool are negative.
func IsBuy(tokenAmount *big.Int) bool {
	return tokenAmount != nil && tokenAmount.Sign() < 0
}

// ResolveAmounts maps the pool's slot amounts onto (token, base) by ordering.
func ResolveAmounts(slot0, slot1 *big.Int, ordering int) (tokenAmount, baseAmount *big.Int) {
	if ordering == 1 {
		return slot1, slot0
	}
	return slot0, slot1
}

// ProcessSwapEvent resolves one swap into an enriched buy. It returns nil
// without error for sells, zero deltas and dust. Receipt and balance failures
// fall back to documented values and are reported through sc.OnError.
func ProcessSwapEvent(ctx context.Context, ev models.SwapNotification, sc Context) (*models.TradeResult, error) {
	if ev.Amount0 == nil || ev.Amount1 == nil {
		return nil, ErrMalformedEvent
	}
	logger := sc.Logger
	if logger == nil {
		logger = logrus.New()
	}

	tokenAmount, baseAmount := ResolveAmounts(ev.Amount0, ev.Amount1, sc.Ordering)
	if !IsBuy(tokenAmount) {
		return nil, nil
	}
	purchased := new(big.Int).Neg(tokenAmount)
	txHash := ev.TxHash.Hex()

	received := purchased
	var buyer common.Address
	receipt, err := sc.Receipts.TransactionReceipt(ctx, ev.TxHash)
	if err != nil || receipt == nil {
		if err == nil {
			err = errors.New("receipt not found")
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"pair":   sc.Pair,
			"txHash": txHash,
		}).Warn("receipt fetch failed, using swap amount")
		sc.report(ctx, err, map[string]string{"context": "getTransactionReceipt", "txHash": txHash})
	} else {
		buyer = receipt.From
		received = pricecalc.HighestTransferAmount(receipt.Logs, sc.PairAddress, purchased)
	}

	balance := received
	if buyer != (common.Address{}) && sc.MemeToken != nil {
		bal, err := sc.MemeToken.BalanceOf(ctx, buyer)
		switch {
		case err != nil:
			logger.WithError(err).WithFields(logrus.Fields{
				"pair":  sc.Pair,
				"buyer": buyer.Hex(),
			}).Warn("balance query failed, using amount received")
			sc.report(ctx, err, map[string]string{"context": "balanceOf", "buyer": buyer.Hex()})
		case bal != nil && bal.Sign() != 0:
			balance = bal
		}
	}

	price := pricecalc.SqrtX96ToPrice(ev.SqrtPriceX96, int(sc.MemeDecimals), int(sc.BaseDecimals), sc.Ordering == 0)

	amountReceived := pricecalc.FormatAmount(received, sc.MemeDecimals, constants.TokenAmountPlaces)
	if decimal.RequireFromString(amountReceived).LessThan(sc.MinAmountReceived) {
		logger.WithFields(logrus.Fields{
			"pair":     sc.Pair,
			"received": amountReceived,
		}).Debug("buy below minimum, skipped")
		return nil, nil
	}

	sender := ""
	if buyer != (common.Address{}) {
		sender = buyer.Hex()
	}
	chain := sc.Chain
	if chain == "" {
		chain = constants.DefaultChain
	}

	return &models.TradeResult{
		TotalTokensPurchased: pricecalc.FormatAmount(purchased, sc.MemeDecimals, constants.TokenAmountPlaces),
		AmountReceived:       amountReceived,
		Cost:                 pricecalc.FormatAmount(new(big.Int).Abs(baseAmount), sc.BaseDecimals, constants.CostPlaces),
		UserBalance:          pricecalc.FormatAmount(balance, sc.MemeDecimals, constants.TokenAmountPlaces),
		TokenPrice:           price.String(),
		Pair:                 sc.Pair,
		TokenContract:        sc.MemeTokenAddress,
		Sender:               sender,
		TxnHash:              txHash,
		Version:              constants.ProtocolVersion,
		Chain:                chain,
	}, nil
}

func (sc Context) report(ctx context.Context, err error, meta map[string]string) {
	if sc.OnError != nil {
		sc.OnError(ctx, err, meta)
	}
}
