package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/dgraph-io/ristretto"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	rstore "github.com/eko/gocache/store/ristretto/v4"
	"github.com/ethereum/go-ethereum/common"
)

// CacheConfig holds configuration for CachedClient
type CacheConfig struct {
	MaxItems int64
	TTL      time.Duration
}

// CachedClient memoizes immutable chain reads: receipts by tx hash and pool
// token0 by pool address. Everything else passes through.
type CachedClient struct {
	Client
	rc       *ristretto.Cache
	receipts *cache.Cache[*models.Receipt]
	token0   *cache.Cache[common.Address]
	ttl      time.Duration
}

func NewCachedClient(inner Client, cfg CacheConfig) (*CachedClient, error) {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}

	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxItems * 10,
		MaxCost:     cfg.MaxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	s := rstore.NewRistretto(rc)
	return &CachedClient{
		Client:   inner,
		rc:       rc,
		receipts: cache.New[*models.Receipt](s),
		token0:   cache.New[common.Address](s),
		ttl:      cfg.TTL,
	}, nil
}

func (c *CachedClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*models.Receipt, error) {
	key := "receipt:" + hash.Hex()
	if r, err := c.receipts.Get(ctx, key); err == nil && r != nil {
		return r, nil
	}

	r, err := c.Client.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	_ = c.receipts.Set(ctx, key, r, store.WithExpiration(c.ttl), store.WithCost(1))
	return r, nil
}

func (c *CachedClient) Token0(ctx context.Context, pool common.Address) (common.Address, error) {
	key := "token0:" + pool.Hex()
	if a, err := c.token0.Get(ctx, key); err == nil && a != (common.Address{}) {
		return a, nil
	}

	a, err := c.Client.Token0(ctx, pool)
	if err != nil {
		return common.Address{}, err
	}
	_ = c.token0.Set(ctx, key, a, store.WithExpiration(c.ttl), store.WithCost(1))
	return a, nil
}

// Wait blocks until pending cache writes are visible.
func (c *CachedClient) Wait() {
	c.rc.Wait()
}

func (c *CachedClient) Close() {
	c.Client.Close()
	c.rc.Close()
}
