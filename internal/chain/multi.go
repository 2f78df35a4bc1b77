// ============================================================================
// chain/multi.go - Priority-ordered failover across endpoints
// ============================================================================
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// Endpoint is one live client inside a MultiEndpointClient.
type Endpoint struct {
	Name   string
	Client Client
	Socket bool
}

// MultiConfig holds configuration for a MultiEndpointClient
type MultiConfig struct {
	PollInterval time.Duration
	OnFailover   func(endpoint, op string) // Called once per failed attempt
	Logger       *logrus.Logger
}

// MultiEndpointClient accepts the first successful response (quorum of one).
// Each call walks the endpoints in priority order until one succeeds.
type MultiEndpointClient struct {
	endpoints []Endpoint
	cfg       MultiConfig
	logger    *logrus.Logger
}

var _ Client = (*MultiEndpointClient)(nil)

func NewMultiEndpointClient(endpoints []Endpoint, cfg MultiConfig) *MultiEndpointClient {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &MultiEndpointClient{endpoints: endpoints, cfg: cfg, logger: cfg.Logger}
}

// Endpoints returns the endpoint names in priority order.
func (m *MultiEndpointClient) Endpoints() []string {
	names := make([]string, len(m.endpoints))
	for i, ep := range m.endpoints {
		names[i] = ep.Name
	}
	return names
}

func (m *MultiEndpointClient) failover(ep Endpoint, op string, err error) {
	m.logger.WithError(err).WithFields(logrus.Fields{
		"endpoint": ep.Name,
		"op":       op,
	}).Warn("rpc call failed, trying next endpoint")
	if m.cfg.OnFailover != nil {
		m.cfg.OnFailover(ep.Name, op)
	}
}

// firstSuccess runs fn against each endpoint in order and returns the first
// success, or the last error when all fail.
func firstSuccess[T any](ctx context.Context, m *MultiEndpointClient, op string, fn func(Client) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for _, ep := range m.endpoints {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ep.Client)
		if err == nil {
			return v, nil
		}
		lastErr = err
		m.failover(ep, op, err)
	}
	if lastErr == nil {
		lastErr = ErrNoLiveEndpoint
	}
	return zero, fmt.Errorf("%s failed on all %d endpoints: %w", op, len(m.endpoints), lastErr)
}

func (m *MultiEndpointClient) BlockNumber(ctx context.Context) (uint64, error) {
	return firstSuccess(ctx, m, "blockNumber", func(c Client) (uint64, error) {
		return c.BlockNumber(ctx)
	})
}

func (m *MultiEndpointClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return firstSuccess(ctx, m, "getLogs", func(c Client) ([]types.Log, error) {
		return c.FilterLogs(ctx, q)
	})
}

func (m *MultiEndpointClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*models.Receipt, error) {
	return firstSuccess(ctx, m, "getTransactionReceipt", func(c Client) (*models.Receipt, error) {
		return c.TransactionReceipt(ctx, hash)
	})
}

func (m *MultiEndpointClient) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return firstSuccess(ctx, m, "balanceOf", func(c Client) (*big.Int, error) {
		return c.TokenBalance(ctx, token, owner)
	})
}

func (m *MultiEndpointClient) Token0(ctx context.Context, pool common.Address) (common.Address, error) {
	return firstSuccess(ctx, m, "token0", func(c Client) (common.Address, error) {
		return c.Token0(ctx, pool)
	})
}

// SubscribeSwapEvents prefers a pushed subscription from the first socket
// endpoint that accepts it. Otherwise one poller runs over the aggregate so
// every eth_getLogs call fails over too.
func (m *MultiEndpointClient) SubscribeSwapEvents(ctx context.Context, pool common.Address) (Subscription, error) {
	for _, ep := range m.endpoints {
		if !ep.Socket {
			continue
		}
		sub, err := ep.Client.SubscribeSwapEvents(ctx, pool)
		if err == nil {
			return sub, nil
		}
		m.failover(ep, "subscribe", err)
	}
	return newPolledSubscription(ctx, m, pool, m.cfg.PollInterval, m.logger), nil
}

func (m *MultiEndpointClient) Close() {
	for _, ep := range m.endpoints {
		ep.Client.Close()
	}
}
