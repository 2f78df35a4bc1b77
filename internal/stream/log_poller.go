package stream

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/backoff"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/constants"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// LogSource is the subset of a chain client the poller needs.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// LogHandler receives every log matched by the poller, in block order.
type LogHandler func(types.Log)

// LogPoller delivers logs from request/response endpoints that cannot push
// subscriptions. It walks the chain head forward with eth_getLogs.
type LogPoller struct {
	source       LogSource
	query        ethereum.FilterQuery
	pollInterval time.Duration
	logger       *logrus.Logger

	mu        sync.RWMutex
	lastBlock uint64
	running   bool
}

// LogPollerConfig holds configuration for the log poller
type LogPollerConfig struct {
	Source       LogSource
	Query        ethereum.FilterQuery
	PollInterval time.Duration
	Logger       *logrus.Logger
}

// NewLogPoller creates a new log poller
func NewLogPoller(cfg LogPollerConfig) *LogPoller {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DefaultLogPollInterval
	}

	return &LogPoller{
		source:       cfg.Source,
		query:        cfg.Query,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
	}
}

// Start polls until ctx is cancelled. Only logs from blocks after the head
// observed at start are delivered. Failures back off exponentially.
func (p *LogPoller) Start(ctx context.Context, handler LogHandler) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller already running")
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	if err := p.init(ctx); err != nil {
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"interval":  p.pollInterval,
		"addresses": p.query.Addresses,
		"from":      p.LastBlock() + 1,
	}).Debug("starting log polling")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := p.poll(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			delay := backoff.Duration(failures)
			p.logger.WithError(err).WithFields(logrus.Fields{
				"attempt": failures,
				"retry":   delay,
			}).Warn("log poll failed")
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}
		failures = 0
	}
}

// Stop marks the poller as stopped. Cancel the Start context to end polling.
func (p *LogPoller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	return nil
}

// LastBlock returns the last block already scanned.
func (p *LogPoller) LastBlock() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastBlock
}

// init records the current head, retrying with backoff until it succeeds.
func (p *LogPoller) init(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		head, err := p.source.BlockNumber(ctx)
		if err == nil {
			p.mu.Lock()
			p.lastBlock = head
			p.mu.Unlock()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.WithError(err).WithField("attempt", attempt).Warn("failed to read chain head")
		if err := sleep(ctx, backoff.Duration(attempt)); err != nil {
			return err
		}
	}
}

// poll fetches logs for the next window of blocks
func (p *LogPoller) poll(ctx context.Context, handler LogHandler) error {
	head, err := p.source.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}

	from := p.LastBlock() + 1
	if from > head {
		return nil
	}
	to := head
	if to-from+1 > constants.MaxPollBlockRange {
		to = from + constants.MaxPollBlockRange - 1
	}

	q := p.query
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(to)

	logs, err := p.source.FilterLogs(ctx, q)
	if err != nil {
		return fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}

	if len(logs) > 0 {
		p.logger.WithFields(logrus.Fields{
			"count": len(logs),
			"from":  from,
			"to":    to,
		}).Debug("found new logs")
	}

	for _, l := range logs {
		if l.Removed {
			continue
		}
		handler(l)
	}

	p.mu.Lock()
	p.lastBlock = to
	p.mu.Unlock()
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
