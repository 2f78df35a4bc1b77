package app

import (
	"context"
	"errors"
	"io"
	"math/big"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/bus"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/chain"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/config"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/metrics"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/storage"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/storage/sqlite"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/storage/storagetest"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	poolA = common.HexToAddress(storagetest.PoolA).Hex()
	poolB = common.HexToAddress(storagetest.PoolB).Hex()
	weth  = common.HexToAddress(storagetest.WETH).Hex()
	usdc  = common.HexToAddress(storagetest.USDC).Hex()
)

// --- fakes ---

type idleSub struct{ errs chan error }

func (s *idleSub) Events() <-chan models.SwapNotification { return nil }
func (s *idleSub) Err() <-chan error                       { return s.errs }
func (s *idleSub) Unsubscribe()                            {}

type fakeClient struct {
	closed atomic.Bool
}

func (c *fakeClient) BlockNumber(context.Context) (uint64, error) { return 1, nil }
func (c *fakeClient) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}
func (c *fakeClient) SubscribeSwapEvents(context.Context, common.Address) (chain.Subscription, error) {
	return &idleSub{errs: make(chan error)}, nil
}
func (c *fakeClient) TransactionReceipt(context.Context, common.Hash) (*models.Receipt, error) {
	return nil, chain.ErrReceiptNotFound
}
func (c *fakeClient) TokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (c *fakeClient) Token0(context.Context, common.Address) (common.Address, error) {
	return common.Address{}, errors.New("not a pool")
}
func (c *fakeClient) Close() { c.closed.Store(true) }

type connector struct {
	mu      sync.Mutex
	clients []*fakeClient
	faults  chan<- chain.Fault
	err     error
}

func (c *connector) connect(_ context.Context, faults chan<- chain.Fault) (chain.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	client := &fakeClient{}
	c.clients = append(c.clients, client)
	c.faults = faults
	return client, nil
}

func (c *connector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

func (c *connector) fault(err error) {
	c.mu.Lock()
	faults := c.faults
	c.mu.Unlock()
	faults <- chain.Fault{Endpoint: "wss://node.example", Err: err, At: time.Now()}
}

type message struct {
	channel string
	payload any
}

type memBus struct {
	mu          sync.Mutex
	msgs        []message
	subscribers atomic.Int32
	closed      atomic.Bool
}

var _ bus.Bus = (*memBus)(nil)

func (b *memBus) Publish(_ context.Context, channel string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, message{channel, payload})
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, _ string, _ bus.Handler) error {
	b.subscribers.Add(1)
	defer b.subscribers.Add(-1)
	<-ctx.Done()
	return nil
}

func (b *memBus) Ping(context.Context) error { return nil }
func (b *memBus) Close() error               { b.closed.Store(true); return nil }

func (b *memBus) on(channel string) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []any
	for _, m := range b.msgs {
		if m.channel == channel {
			out = append(out, m.payload)
		}
	}
	return out
}

// --- helpers ---

func testConfig() *config.Config {
	return &config.Config{
		FaultPolicy: config.FaultPolicyExit,
		ChainName:   "base",
		Channels: config.Channels{
			TokenActions: "token-actions",
			Buys:         "buys",
			Info:         "info",
			Errors:       "errors",
		},
		MinAmountReceived:  0.01,
		DBWriteThrottle:    3 * time.Hour,
		StalePairThreshold: 72 * time.Hour,
		StaleScanInterval:  time.Hour,
	}
}

func newTestStore(t *testing.T) storage.PairStore {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s, err := sqlite.New(sqlite.Config{Path: filepath.Join(t.TempDir(), "pairs.db"), Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storedPair(pool string, lastBought time.Time) models.TrackedPair {
	return models.TrackedPair{
		Pair:              pool,
		MemeTokenAddress:  usdc,
		BaseTokenAddress:  weth,
		MemeTokenDecimals: 6,
		BaseTokenDecimals: 18,
		LastBoughtAt:      storage.Millis(lastBought),
	}
}

func newTestApp(t *testing.T, cfg *config.Config, store storage.PairStore) (*App, *connector, *memBus) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	conn := &connector{}
	b := &memBus{}
	a, err := New(cfg, Deps{
		Store:   store,
		Bus:     b,
		Connect: conn.connect,
		Metrics: metrics.New(),
		Logger:  logger,
	})
	require.NoError(t, err)
	return a, conn, b
}

// --- tests ---

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(testConfig(), Deps{})
	assert.Error(t, err)
}

func TestStart_RestoresStoredPairs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	old := time.Now().Add(-100 * time.Hour).Truncate(time.Millisecond)
	require.NoError(t, store.Upsert(ctx, storedPair(poolA, old)))
	require.NoError(t, store.Upsert(ctx, storedPair(poolB, time.Now())))

	a, conn, _ := newTestApp(t, testConfig(), store)
	require.NoError(t, a.Start(ctx))
	t.Cleanup(a.stop)

	assert.Equal(t, 1, conn.count())
	require.Equal(t, 2, a.Len())

	restored, ok := lo.Find(a.Active(), func(p models.TrackedPair) bool { return p.Pair == poolA })
	require.True(t, ok)
	assert.Equal(t, storage.Millis(old), restored.LastBoughtAt, "restored rows keep their timestamp")

	ordering, ok := a.Ordering(poolA)
	require.True(t, ok)
	assert.Equal(t, 1, ordering, "usdc sorts above weth, so it is token1")
}

func TestStart_ConnectFailure(t *testing.T) {
	a, conn, _ := newTestApp(t, testConfig(), newTestStore(t))
	conn.err = chain.ErrNoLiveEndpoint

	err := a.Run(context.Background())
	require.ErrorIs(t, err, chain.ErrNoLiveEndpoint)
	assert.Zero(t, a.Len())
}

func TestHandleControl_CreateAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	a, _, b := newTestApp(t, testConfig(), store)
	require.NoError(t, a.Start(ctx))
	t.Cleanup(a.stop)

	a.HandleControl(ctx, []byte(`{"action":"create","pair":"`+poolA+`","memeTokenAddress":"`+usdc+`","baseTokenAddress":"`+weth+`","memeTokenDecimals":"6"}`))

	require.Equal(t, 1, a.Len())
	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, uint8(6), all[0].MemeTokenDecimals)
	assert.Equal(t, uint8(18), all[0].BaseTokenDecimals, "missing decimals default to 18")
	assert.NotZero(t, all[0].LastBoughtAt)

	infos := b.on("info")
	require.Len(t, infos, 1)
	assert.Equal(t, "added pair "+poolA, infos[0].(models.InfoMessage).Message)

	a.HandleControl(ctx, []byte(`{"action":"DELETE","pair":"`+poolA+`"}`))

	assert.Zero(t, a.Len())
	all, err = store.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	infos = b.on("info")
	require.Len(t, infos, 2)
	assert.Equal(t, "removed pair "+poolA, infos[1].(models.InfoMessage).Message)
}

func TestHandleControl_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	a, _, b := newTestApp(t, testConfig(), newTestStore(t))
	require.NoError(t, a.Start(ctx))
	t.Cleanup(a.stop)

	a.HandleControl(ctx, []byte(`not json`))
	a.HandleControl(ctx, []byte(`{"action":"pause","pair":"`+poolA+`"}`))
	assert.Empty(t, b.on("info"))
	assert.Empty(t, b.on("errors"), "undecodable and unknown messages are only logged")

	a.HandleControl(ctx, []byte(`{"action":"create","pair":"`+poolA+`","memeTokenAddress":"`+usdc+`"}`))
	a.HandleControl(ctx, []byte(`{"action":"create","pair":"0x1234","memeTokenAddress":"`+usdc+`","baseTokenAddress":"`+weth+`"}`))

	reports := b.on("errors")
	require.Len(t, reports, 2)
	first := reports[0].(models.ErrorReport)
	assert.Equal(t, "create", first.Context)
	assert.Contains(t, first.Error, "baseTokenAddress")
	assert.Contains(t, reports[1].(models.ErrorReport).Error, "invalid pair")
	assert.Zero(t, a.Len())
	assert.Empty(t, b.on("info"))
}

func TestCheckStale(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now().Truncate(time.Millisecond)
	require.NoError(t, store.Upsert(ctx, storedPair(poolA, now.Add(-96*time.Hour))))
	require.NoError(t, store.Upsert(ctx, storedPair(poolB, now.Add(-time.Hour))))

	a, _, b := newTestApp(t, testConfig(), store)
	a.now = func() time.Time { return now }

	stale, err := a.CheckStale(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, poolA, stale[0].Pair)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.deps.Metrics.StalePairs))

	infos := b.on("info")
	require.Len(t, infos, 1)
	msg := infos[0].(models.InfoMessage)
	assert.Equal(t, "stale-pairs check", msg.Message)
	require.Len(t, msg.Pairs, 1)
	assert.Equal(t, poolA, msg.Pairs[0].Pair)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2, "stale pairs are reported, not removed")
}

func TestCheckStale_NothingStale(t *testing.T) {
	a, _, b := newTestApp(t, testConfig(), newTestStore(t))

	stale, err := a.CheckStale(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stale)
	assert.Empty(t, b.on("info"))
}

func runApp(t *testing.T, a *App) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestRun_ShutdownKeepsStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Upsert(ctx, storedPair(poolA, time.Now())))

	a, conn, b := newTestApp(t, testConfig(), store)
	cancel, done := runApp(t, a)

	require.Eventually(t, func() bool { return b.subscribers.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, a.Len())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Zero(t, a.Len())
	assert.True(t, conn.clients[0].closed.Load())
	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "shutdown leaves stored pairs in place")

	require.NoError(t, a.Close())
	assert.True(t, b.closed.Load())
}

func TestRun_FaultExitPolicy(t *testing.T) {
	a, conn, b := newTestApp(t, testConfig(), newTestStore(t))
	_, done := runApp(t, a)

	require.Eventually(t, func() bool { return b.subscribers.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	conn.fault(errors.New("websocket: close 1006"))

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrChainFault)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit on fault")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(a.deps.Metrics.ChainFaults))
}

func TestRun_FaultRestartPolicy(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Upsert(ctx, storedPair(poolA, time.Now())))

	cfg := testConfig()
	cfg.FaultPolicy = config.FaultPolicyRestart
	a, conn, b := newTestApp(t, cfg, store)
	cancel, done := runApp(t, a)

	require.Eventually(t, func() bool { return b.subscribers.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	conn.fault(errors.New("websocket: close 1006"))

	require.Eventually(t, func() bool { return conn.count() == 2 && a.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, conn.clients[0].closed.Load(), "the faulted client is closed before reconnecting")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
