// ============================================================================
// chain/client.go - Chain access capability
// ============================================================================
package chain

import (
	"context"
	"errors"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Client is everything the listener needs from the chain. Single endpoints,
// multi-endpoint aggregates and caches all satisfy it.
type Client interface {
	// BlockNumber returns the latest block height
	BlockNumber(ctx context.Context) (uint64, error)

	// FilterLogs runs an eth_getLogs query
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)

	// SubscribeSwapEvents streams decoded Swap events emitted by pool
	SubscribeSwapEvents(ctx context.Context, pool common.Address) (Subscription, error)

	// TransactionReceipt returns the receipt with its sender
	TransactionReceipt(ctx context.Context, hash common.Hash) (*models.Receipt, error)

	// TokenBalance returns owner's ERC20 balance of token
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)

	// Token0 returns the token in the pool's first slot
	Token0(ctx context.Context, pool common.Address) (common.Address, error)

	// Close releases connections and background loops
	Close()
}

// Subscription is a cancellable stream of swap notifications.
type Subscription interface {
	Events() <-chan models.SwapNotification
	// Err delivers at most one terminal transport error
	Err() <-chan error
	Unsubscribe()
}

// Fault signals an unrecoverable transport closure on a socket endpoint.
type Fault struct {
	Endpoint string
	Err      error
	At       time.Time
}

var (
	// ErrNoLiveEndpoint means every candidate endpoint failed its probe.
	ErrNoLiveEndpoint = errors.New("no live rpc endpoint")
	// ErrReceiptNotFound means the node has no receipt for the hash yet.
	ErrReceiptNotFound = errors.New("receipt not found")
)

// IsSocket reports whether rawURL is a websocket endpoint.
func IsSocket(rawURL string) bool {
	u := strings.ToLower(strings.TrimSpace(rawURL))
	return strings.HasPrefix(u, "ws://") || strings.HasPrefix(u, "wss://")
}

// Redact strips paths and query strings, which often carry API keys.
func Redact(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "invalid-endpoint"
	}
	return u.Scheme + "://" + u.Host
}
