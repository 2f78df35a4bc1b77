package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testPool = common.HexToAddress("0xd0b53d9277642d899df5c87a3966a349a798f224")
	testWETH = common.HexToAddress("0x4200000000000000000000000000000000000006")
	testTx   = common.HexToHash("0x3dd1f721a100bf30e813194577dc7faa07e28f605d5c8b4cf7495795774d0cde")
)

// fakeClient is a scriptable Client.
type fakeClient struct {
	mu       sync.Mutex
	head     uint64
	logs     []types.Log
	err      error
	subErr   error
	receipts atomic.Int32
	subs     atomic.Int32
	closed   atomic.Bool
}

func (f *fakeClient) advance(head uint64, logs ...types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = head
	f.logs = append(f.logs, logs...)
}

func (f *fakeClient) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.err
}

func (f *fakeClient) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeClient) SubscribeSwapEvents(context.Context, common.Address) (Subscription, error) {
	f.subs.Add(1)
	if f.subErr != nil {
		return nil, f.subErr
	}
	return newSwapSubscription(nil), nil
}

func (f *fakeClient) TransactionReceipt(_ context.Context, hash common.Hash) (*models.Receipt, error) {
	f.receipts.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Receipt{TxHash: hash, From: common.HexToAddress("0xf0DA03E41B60F05ddF2F7C8007ECc3936C9a1b98")}, nil
}

func (f *fakeClient) TokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return big.NewInt(500_000_000), nil
}

func (f *fakeClient) Token0(context.Context, common.Address) (common.Address, error) {
	return testWETH, f.err
}

func (f *fakeClient) Close() { f.closed.Store(true) }

func dialer(clients map[string]*fakeClient) DialFunc {
	return func(_ context.Context, url string) (Client, error) {
		c, ok := clients[url]
		if !ok {
			return nil, errors.New("connection refused")
		}
		return c, nil
	}
}

func swapLog(t *testing.T, block uint64) types.Log {
	t.Helper()
	data, err := poolABI.Events["Swap"].Inputs.NonIndexed().Pack(
		big.NewInt(7740000000000000),
		big.NewInt(-15263362),
		mustBig(t, "3519190486474440538307992"),
		big.NewInt(1000),
		big.NewInt(-197000),
	)
	require.NoError(t, err)
	return types.Log{
		Address:     testPool,
		Topics:      []common.Hash{swapTopic, {}, {}},
		Data:        data,
		BlockNumber: block,
		TxHash:      testTx,
		Index:       3,
	}
}

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	n, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok)
	return n
}

func TestResolve_NoLiveEndpoint(t *testing.T) {
	down := &fakeClient{err: errors.New("timeout")}
	_, err := Resolve(context.Background(), ResolverConfig{
		URLs: []string{"https://a.example/key", "https://b.example"},
		Dial: dialer(map[string]*fakeClient{"https://a.example/key": down}),
	})
	assert.ErrorIs(t, err, ErrNoLiveEndpoint)
	assert.True(t, down.closed.Load(), "a dead endpoint must be closed")
}

func TestResolve_SingleEndpoint(t *testing.T) {
	live := &fakeClient{head: 10}
	c, err := Resolve(context.Background(), ResolverConfig{
		URLs: []string{"https://down.example", "https://live.example"},
		Dial: dialer(map[string]*fakeClient{"https://live.example": live}),
	})
	require.NoError(t, err)
	assert.Same(t, live, c)
}

func TestResolve_MultipleEndpoints(t *testing.T) {
	a := &fakeClient{head: 10}
	b := &fakeClient{head: 11}
	c, err := Resolve(context.Background(), ResolverConfig{
		URLs: []string{"https://a.example/secret", "https://dead.example", "wss://b.example"},
		Dial: dialer(map[string]*fakeClient{"https://a.example/secret": a, "wss://b.example": b}),
	})
	require.NoError(t, err)

	multi, ok := c.(*MultiEndpointClient)
	require.True(t, ok)
	assert.Equal(t, []string{"https://a.example", "wss://b.example"}, multi.Endpoints())
	assert.False(t, multi.endpoints[0].Socket)
	assert.True(t, multi.endpoints[1].Socket)
}

func TestMultiEndpointClient_FailsOver(t *testing.T) {
	bad := &fakeClient{err: errors.New("503")}
	good := &fakeClient{head: 42}

	var mu sync.Mutex
	var failovers []string
	m := NewMultiEndpointClient([]Endpoint{
		{Name: "bad", Client: bad},
		{Name: "good", Client: good},
	}, MultiConfig{OnFailover: func(endpoint, op string) {
		mu.Lock()
		defer mu.Unlock()
		failovers = append(failovers, endpoint+":"+op)
	}})

	head, err := m.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), head)

	r, err := m.TransactionReceipt(context.Background(), testTx)
	require.NoError(t, err)
	assert.Equal(t, testTx, r.TxHash)
	assert.Equal(t, int32(1), bad.receipts.Load())
	assert.Equal(t, int32(1), good.receipts.Load())

	assert.Equal(t, []string{"bad:blockNumber", "bad:getTransactionReceipt"}, failovers)
}

func TestMultiEndpointClient_FirstSuccessWins(t *testing.T) {
	first := &fakeClient{head: 1}
	second := &fakeClient{head: 2}
	m := NewMultiEndpointClient([]Endpoint{{Name: "1", Client: first}, {Name: "2", Client: second}}, MultiConfig{})

	_, err := m.TransactionReceipt(context.Background(), testTx)
	require.NoError(t, err)
	assert.Equal(t, int32(0), second.receipts.Load())
}

func TestMultiEndpointClient_AllFail(t *testing.T) {
	last := errors.New("last failure")
	m := NewMultiEndpointClient([]Endpoint{
		{Name: "a", Client: &fakeClient{err: errors.New("first failure")}},
		{Name: "b", Client: &fakeClient{err: last}},
	}, MultiConfig{})

	_, err := m.TokenBalance(context.Background(), testWETH, testPool)
	assert.ErrorIs(t, err, last)
}

func TestMultiEndpointClient_PrefersSocketSubscription(t *testing.T) {
	httpEP := &fakeClient{head: 1}
	wsDown := &fakeClient{head: 1, subErr: errors.New("closed")}
	wsUp := &fakeClient{head: 1}
	m := NewMultiEndpointClient([]Endpoint{
		{Name: "http", Client: httpEP},
		{Name: "ws-down", Client: wsDown, Socket: true},
		{Name: "ws-up", Client: wsUp, Socket: true},
	}, MultiConfig{})

	sub, err := m.SubscribeSwapEvents(context.Background(), testPool)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	assert.Equal(t, int32(0), httpEP.subs.Load())
	assert.Equal(t, int32(1), wsDown.subs.Load())
	assert.Equal(t, int32(1), wsUp.subs.Load())
}

func TestPolledSubscription_DeliversSwaps(t *testing.T) {
	src := &fakeClient{head: 100}
	m := NewMultiEndpointClient([]Endpoint{{Name: "http", Client: src}}, MultiConfig{PollInterval: 10 * time.Millisecond})

	sub, err := m.SubscribeSwapEvents(context.Background(), testPool)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// logs are only picked up after the poller has recorded the start head
	time.Sleep(30 * time.Millisecond)
	src.advance(101, swapLog(t, 101))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, testPool, ev.Pool)
		assert.Equal(t, testTx, ev.TxHash)
		assert.Equal(t, int64(-15263362), ev.Amount1.Int64())
		assert.Equal(t, uint64(101), ev.BlockNumber)
	case <-time.After(2 * time.Second):
		t.Fatal("no swap delivered")
	}
}

type fakeEthSub struct {
	errs        chan error
	unsubscribe atomic.Bool
}

func (s *fakeEthSub) Err() <-chan error { return s.errs }
func (s *fakeEthSub) Unsubscribe()      { s.unsubscribe.Store(true) }

func TestPushedSubscription_TransportErrorIsTerminal(t *testing.T) {
	ethSub := &fakeEthSub{errs: make(chan error, 1)}
	logs := make(chan types.Log, 1)

	closed := make(chan error, 1)
	sub := newPushedSubscription(ethSub, logs, logrus.New(), func(err error) { closed <- err })

	logs <- swapLog(t, 5)
	select {
	case ev := <-sub.Events():
		assert.Equal(t, uint(3), ev.LogIndex)
	case <-time.After(time.Second):
		t.Fatal("no swap delivered")
	}

	ethSub.errs <- errors.New("websocket: close 1006")
	select {
	case err := <-closed:
		assert.Contains(t, err.Error(), "1006")
	case <-time.After(time.Second):
		t.Fatal("transport closure not reported")
	}
	assert.Error(t, <-sub.Err())
	require.Eventually(t, ethSub.unsubscribe.Load, time.Second, 5*time.Millisecond)
}

func TestDecodeSwap_RejectsOtherTopics(t *testing.T) {
	l := swapLog(t, 1)
	l.Topics[0] = common.HexToHash("0x01")
	_, err := DecodeSwap(l)
	assert.Error(t, err)
}

func TestCachedClient_Receipts(t *testing.T) {
	inner := &fakeClient{head: 1}
	c, err := NewCachedClient(inner, CacheConfig{MaxItems: 100, TTL: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.TransactionReceipt(context.Background(), testTx)
	require.NoError(t, err)
	c.Wait()

	r, err := c.TransactionReceipt(context.Background(), testTx)
	require.NoError(t, err)
	assert.Equal(t, testTx, r.TxHash)
	assert.Equal(t, int32(1), inner.receipts.Load())
}

func TestCachedClient_DoesNotCacheErrors(t *testing.T) {
	inner := &fakeClient{err: errors.New("boom")}
	c, err := NewCachedClient(inner, CacheConfig{})
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 2; i++ {
		_, err := c.TransactionReceipt(context.Background(), testTx)
		assert.Error(t, err)
		c.Wait()
	}
	assert.Equal(t, int32(2), inner.receipts.Load())
}

func TestBindings(t *testing.T) {
	c := &fakeClient{}
	token0, err := BindPool(c, testPool).Token0(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testWETH, token0)

	bal, err := BindToken(c, testWETH).BalanceOf(context.Background(), testPool)
	require.NoError(t, err)
	assert.Equal(t, int64(500_000_000), bal.Int64())
}

func TestIsSocketAndRedact(t *testing.T) {
	assert.True(t, IsSocket("wss://base.example/v2/key"))
	assert.True(t, IsSocket(" WS://localhost:8546"))
	assert.False(t, IsSocket("https://mainnet.base.org"))

	assert.Equal(t, "https://base-mainnet.g.alchemy.com", Redact("https://base-mainnet.g.alchemy.com/v2/secret"))
	assert.Equal(t, "invalid-endpoint", Redact("not a url"))
}
