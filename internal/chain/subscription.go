package chain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/stream"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

const eventBuffer = 64

// swapSubscription is the Subscription handed out by every client. Producers
// deliver decoded events until Unsubscribe closes done.
type swapSubscription struct {
	events chan models.SwapNotification
	errs   chan error
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc
}

func newSwapSubscription(cancel context.CancelFunc) *swapSubscription {
	return &swapSubscription{
		events: make(chan models.SwapNotification, eventBuffer),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

func (s *swapSubscription) Events() <-chan models.SwapNotification { return s.events }

func (s *swapSubscription) Err() <-chan error { return s.errs }

func (s *swapSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func (s *swapSubscription) deliver(ev models.SwapNotification) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *swapSubscription) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// decodeAndDeliver is the log handler shared by pushed and polled streams.
func (s *swapSubscription) decodeAndDeliver(l types.Log, logger *logrus.Logger) {
	ev, err := DecodeSwap(l)
	if err != nil {
		logger.WithError(err).WithField("tx", l.TxHash.Hex()).Warn("skipping undecodable swap log")
		return
	}
	s.deliver(ev)
}

// newPolledSubscription streams swaps from a request/response source by
// polling eth_getLogs. Poll failures retry with backoff inside the poller.
func newPolledSubscription(ctx context.Context, src stream.LogSource, pool common.Address, interval time.Duration, logger *logrus.Logger) *swapSubscription {
	ctx, cancel := context.WithCancel(ctx)
	s := newSwapSubscription(cancel)

	poller := stream.NewLogPoller(stream.LogPollerConfig{
		Source:       src,
		Query:        SwapQuery(pool),
		PollInterval: interval,
		Logger:       logger,
	})

	go func() {
		err := poller.Start(ctx, func(l types.Log) { s.decodeAndDeliver(l, logger) })
		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(err)
		}
	}()
	return s
}

// newPushedSubscription wraps an eth_subscribe logs stream. A transport error
// is terminal: it is reported through onClose and Err.
func newPushedSubscription(sub ethereum.Subscription, logs <-chan types.Log, logger *logrus.Logger, onClose func(error)) *swapSubscription {
	s := newSwapSubscription(nil)

	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-s.done:
				return
			case err, ok := <-sub.Err():
				if !ok || err == nil {
					return
				}
				if onClose != nil {
					onClose(err)
				}
				s.fail(err)
				return
			case l := <-logs:
				if l.Removed {
					continue
				}
				s.decodeAndDeliver(l, logger)
			}
		}
	}()
	return s
}
