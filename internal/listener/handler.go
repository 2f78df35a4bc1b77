package listener

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/chain"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/swap"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// drain forwards every event of one subscription to its own handler
// goroutine until the pair is removed or the transport fails.
func (m *Manager) drain(e *entry) {
	defer m.wg.Done()
	log := m.logger.WithField("pair", e.pair.Pair)

	for {
		select {
		case <-e.ctx.Done():
			return
		case err := <-e.sub.Err():
			if e.ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("Swap subscription failed")
			m.deps.Metrics.RecordError("subscription")
			m.report(e, err, map[string]string{"context": "subscription"})
			return
		case ev := <-e.sub.Events():
			m.wg.Add(1)
			go m.handle(e, ev, time.Now())
		}
	}
}

// handle resolves one swap and publishes it when it is a buy. Failures are
// logged and reported on the errors channel; the subscription stays up.
func (m *Manager) handle(e *entry, ev models.SwapNotification, received time.Time) {
	defer m.wg.Done()
	log := m.logger.WithFields(logrus.Fields{
		"pair":   e.pair.Pair,
		"txHash": ev.TxHash.Hex(),
	})
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in swap handler: %v", r)
			log.WithError(err).Error("Unhandled error in Swap handler")
			m.deps.Metrics.RecordError("panic")
			m.report(e, err, map[string]string{"txHash": ev.TxHash.Hex()})
		}
	}()

	if ev.Amount0 != nil && ev.Amount1 != nil {
		token, _ := swap.ResolveAmounts(ev.Amount0, ev.Amount1, e.ordering)
		m.deps.Metrics.RecordSwap(swap.IsBuy(token))
	}

	result, err := swap.ProcessSwapEvent(e.ctx, ev, m.swapContext(e))
	if err != nil {
		if e.ctx.Err() != nil {
			return
		}
		log.WithError(err).Error("Unhandled error in Swap handler")
		m.deps.Metrics.RecordError("process")
		m.report(e, err, map[string]string{"txHash": ev.TxHash.Hex()})
		return
	}
	if result == nil || !m.isCurrent(e) {
		return
	}

	if err := m.deps.Publisher.Publish(e.ctx, m.cfg.BuysChannel, result); err != nil {
		log.WithError(err).Error("Failed to publish buy")
		m.deps.Metrics.RecordError("publish")
		m.report(e, err, map[string]string{"context": "publish", "txHash": ev.TxHash.Hex()})
		return
	}
	m.deps.Metrics.RecordBuy(time.Since(received).Seconds())
	log.WithFields(logrus.Fields{
		"amount": result.AmountReceived,
		"cost":   result.Cost,
		"price":  result.TokenPrice,
	}).Info("Published buy")

	if _, err := m.ThrottledUpdate(e.ctx, e.pair.Pair); err != nil && e.ctx.Err() == nil {
		log.WithError(err).Warn("Failed to update lastBoughtAt")
		m.deps.Metrics.RecordError("store")
		m.report(e, err, map[string]string{"context": "updateLastBought"})
	}
}

func (m *Manager) swapContext(e *entry) swap.Context {
	m.mu.RLock()
	dec, ok := m.decimals[e.addr]
	m.mu.RUnlock()
	if !ok {
		dec = pairDecimals{meme: e.pair.MemeTokenDecimals, base: e.pair.BaseTokenDecimals}
	}

	return swap.Context{
		Pair:              e.pair.Pair,
		PairAddress:       e.addr,
		MemeTokenAddress:  e.pair.MemeTokenAddress,
		BaseTokenAddress:  e.pair.BaseTokenAddress,
		MemeDecimals:      dec.meme,
		BaseDecimals:      dec.base,
		Ordering:          e.ordering,
		Chain:             m.cfg.Chain,
		Receipts:          m.deps.Client,
		MemeToken:         chain.BindToken(m.deps.Client, common.HexToAddress(e.pair.MemeTokenAddress)),
		MinAmountReceived: m.cfg.MinAmountReceived,
		OnError: func(_ context.Context, err error, meta map[string]string) {
			if m.isCurrent(e) {
				m.deps.Metrics.RecordError(meta["context"])
				m.report(e, err, meta)
			}
		},
		Logger: m.logger,
	}
}

// report publishes an ErrorReport tagged with the pair. It uses its own
// deadline so reports still go out while the pair is being removed.
func (m *Manager) report(e *entry, err error, meta map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	if perr := m.deps.Publisher.Publish(ctx, m.cfg.ErrorsChannel, models.NewErrorReport(err, e.pair.Pair, meta)); perr != nil {
		m.logger.WithError(perr).WithField("pair", e.pair.Pair).Warn("Failed to publish error report")
	}
}
