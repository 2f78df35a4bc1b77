// ============================================================================
// chain/endpoint.go - Single go-ethereum endpoint
// ============================================================================
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/constants"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// EndpointConfig holds configuration for one RPC endpoint
type EndpointConfig struct {
	URL               string
	CallTimeout       time.Duration // Bound on every chain read
	RateLimit         float64       // Requests per second, 0 = unlimited
	KeepaliveInterval time.Duration // Socket endpoints only
	PollInterval      time.Duration // Log polling for request/response endpoints
	Faults            chan<- Fault  // Receives socket closures, optional
	Logger            *logrus.Logger
}

// EthClient implements Client over a single endpoint.
type EthClient struct {
	cfg     EndpointConfig
	name    string
	socket  bool
	rpc     *rpc.Client
	eth     *ethclient.Client
	limiter *rate.Limiter
	logger  *logrus.Logger

	faultOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

var _ Client = (*EthClient)(nil)

// Dial connects to cfg.URL. Socket endpoints start their keepalive loop
// immediately.
func Dial(ctx context.Context, cfg EndpointConfig) (*EthClient, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = constants.DefaultCallTimeout
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = constants.DefaultKeepalive
	}

	socket := IsSocket(cfg.URL)
	var opts []rpc.ClientOption
	if socket {
		opts = append(opts, rpc.WithWebsocketDialer(websocket.Dialer{
			HandshakeTimeout: cfg.CallTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		}))
	}

	rc, err := rpc.DialOptions(ctx, cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", Redact(cfg.URL), err)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	c := &EthClient{
		cfg:     cfg,
		name:    Redact(cfg.URL),
		socket:  socket,
		rpc:     rc,
		eth:     ethclient.NewClient(rc),
		limiter: rate.NewLimiter(limit, 1),
		logger:  cfg.Logger,
		done:    make(chan struct{}),
	}

	if socket {
		c.wg.Add(1)
		go c.keepalive()
	}
	return c, nil
}

// Name is the redacted endpoint URL.
func (c *EthClient) Name() string { return c.name }

// IsSocket reports whether the endpoint pushes subscriptions.
func (c *EthClient) IsSocket() bool { return c.socket }

// begin waits for the rate limiter and bounds the call
func (c *EthClient) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	return ctx, cancel, nil
}

func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()
	return c.eth.BlockNumber(ctx)
}

func (c *EthClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return c.eth.FilterLogs(ctx, q)
}

// rpcReceipt keeps the sender, which types.Receipt drops.
type rpcReceipt struct {
	TxHash common.Hash    `json:"transactionHash"`
	From   common.Address `json:"from"`
	Logs   []types.Log    `json:"logs"`
}

func (c *EthClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*models.Receipt, error) {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var r *rpcReceipt
	if err := c.rpc.CallContext(ctx, &r, "eth_getTransactionReceipt", hash); err != nil {
		return nil, fmt.Errorf("get receipt %s: %w", hash.Hex(), err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrReceiptNotFound, hash.Hex())
	}
	return &models.Receipt{TxHash: r.TxHash, From: r.From, Logs: r.Logs}, nil
}

func (c *EthClient) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	contract := bind.NewBoundContract(token, erc20ABI, c.eth, nil, nil)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", owner); err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", token.Hex(), err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *EthClient) Token0(ctx context.Context, pool common.Address) (common.Address, error) {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return common.Address{}, err
	}
	defer cancel()

	contract := bind.NewBoundContract(pool, poolABI, c.eth, nil, nil)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "token0"); err != nil {
		return common.Address{}, fmt.Errorf("token0 %s: %w", pool.Hex(), err)
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// SubscribeSwapEvents uses eth_subscribe on socket endpoints and log polling
// otherwise. A socket subscription error is reported as a Fault.
func (c *EthClient) SubscribeSwapEvents(ctx context.Context, pool common.Address) (Subscription, error) {
	if !c.socket {
		return newPolledSubscription(ctx, c, pool, c.cfg.PollInterval, c.logger), nil
	}

	logs := make(chan types.Log, eventBuffer)
	sctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	sub, err := c.eth.SubscribeFilterLogs(sctx, SwapQuery(pool), logs)
	if err != nil {
		return nil, fmt.Errorf("subscribe swaps %s: %w", pool.Hex(), err)
	}

	return newPushedSubscription(sub, logs, c.logger, func(err error) {
		c.fault(fmt.Errorf("swap subscription %s: %w", pool.Hex(), err))
	}), nil
}

// keepalive pings the socket. The first failure is a transport closure.
func (c *EthClient) keepalive() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
			_, err := c.eth.BlockNumber(ctx)
			cancel()
			if err != nil {
				c.fault(fmt.Errorf("keepalive: %w", err))
				return
			}
		}
	}
}

// fault reports the closure once. The client never rebuilds itself.
func (c *EthClient) fault(err error) {
	select {
	case <-c.done:
		return
	default:
	}
	c.faultOnce.Do(func() {
		c.logger.WithError(err).WithField("endpoint", c.name).Error("socket transport closed")
		if c.cfg.Faults == nil {
			return
		}
		select {
		case c.cfg.Faults <- Fault{Endpoint: c.name, Err: err, At: time.Now()}:
		default:
			c.logger.WithField("endpoint", c.name).Warn("fault channel full, dropping fault")
		}
	})
}

// Close stops the keepalive and closes the connection
func (c *EthClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.rpc.Close()
	})
}
