// ============================================================================
// listener/manager.go - Per-pool swap subscriptions
// ============================================================================
package listener

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/bus"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/chain"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/constants"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/metrics"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const reportTimeout = 5 * time.Second

// ErrInvalidPair is returned by Add for missing or malformed addresses.
var ErrInvalidPair = errors.New("invalid pair")

// Deps are the collaborators a Manager drives.
type Deps struct {
	Client    chain.Client
	Store     storage.PairStore
	Publisher bus.Publisher
	Logger    *logrus.Logger
	Metrics   *metrics.Metrics // Optional
}

// Config holds configuration for a Manager
type Config struct {
	BuysChannel       string
	ErrorsChannel     string
	MinAmountReceived decimal.Decimal
	ThrottleWindow    time.Duration
	Chain             string
}

type pairDecimals struct {
	meme, base uint8
}

type entry struct {
	pair     models.TrackedPair
	addr     common.Address
	ordering int
	sub      chain.Subscription
	ctx      context.Context
	cancel   context.CancelFunc

	// lastBoughtAt is the throttle marker in epoch ms, guarded by Manager.mu
	lastBoughtAt int64
}

// Manager owns one swap subscription per tracked pair. All maps are keyed by
// pair address and guarded by mu.
type Manager struct {
	deps   Deps
	cfg    Config
	logger *logrus.Logger

	mu       sync.RWMutex
	active   map[common.Address]*entry
	ordering map[common.Address]int
	decimals map[common.Address]pairDecimals

	wg  sync.WaitGroup
	now func() time.Time
}

func NewManager(deps Deps, cfg Config) *Manager {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if cfg.BuysChannel == "" {
		cfg.BuysChannel = constants.ChannelBuys
	}
	if cfg.ErrorsChannel == "" {
		cfg.ErrorsChannel = constants.ChannelErrors
	}
	if cfg.ThrottleWindow <= 0 {
		cfg.ThrottleWindow = constants.DefaultThrottleWindow
	}
	if cfg.Chain == "" {
		cfg.Chain = constants.DefaultChain
	}

	return &Manager{
		deps:     deps,
		cfg:      cfg,
		logger:   deps.Logger,
		active:   make(map[common.Address]*entry),
		ordering: make(map[common.Address]int),
		decimals: make(map[common.Address]pairDecimals),
		now:      time.Now,
	}
}

// Add starts listening to a pair. Adding an active pair is a no-op. The
// subscription outlives ctx; ctx only bounds the setup calls.
func (m *Manager) Add(ctx context.Context, p models.TrackedPair) error {
	p, err := normalize(p)
	if err != nil {
		return err
	}
	addr := common.HexToAddress(p.Pair)
	if m.isActive(addr) {
		return nil
	}

	log := m.logger.WithField("pair", p.Pair)
	pool := chain.BindPool(m.deps.Client, addr)
	meme := common.HexToAddress(p.MemeTokenAddress)
	base := common.HexToAddress(p.BaseTokenAddress)

	ordering, err := resolveOrdering(ctx, pool, meme)
	if err != nil {
		log.WithError(err).Warn("token0() call failed, using address comparison")
		ordering = AddressOrdering(meme, base)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub, err := pool.WatchSwaps(subCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to %s: %w", p.Pair, err)
	}

	if p.LastBoughtAt == 0 {
		p.LastBoughtAt = storage.Millis(m.now())
	}
	if err := m.deps.Store.Upsert(ctx, p); err != nil {
		cancel()
		sub.Unsubscribe()
		return fmt.Errorf("persist %s: %w", p.Pair, err)
	}
	m.deps.Metrics.RecordStoreWrite("upsert")

	e := &entry{pair: p, addr: addr, ordering: ordering, sub: sub, ctx: subCtx, cancel: cancel}

	m.mu.Lock()
	if _, ok := m.active[addr]; ok {
		m.mu.Unlock()
		cancel()
		sub.Unsubscribe()
		return nil
	}
	m.active[addr] = e
	m.ordering[addr] = ordering
	m.decimals[addr] = pairDecimals{meme: p.MemeTokenDecimals, base: p.BaseTokenDecimals}
	n := len(m.active)
	m.mu.Unlock()

	m.deps.Metrics.SetActivePairs(n)
	m.wg.Add(1)
	go m.drain(e)

	log.WithField("ordering", ordering).Info("Listening to pair")
	return nil
}

// Remove stops listening to a pair and deletes its stored row. Unknown
// pairs are ignored without touching the store.
func (m *Manager) Remove(ctx context.Context, pair string) error {
	if !common.IsHexAddress(pair) {
		return fmt.Errorf("%w: pair address %q", ErrInvalidPair, pair)
	}
	addr := common.HexToAddress(pair)

	m.mu.Lock()
	e, ok := m.active[addr]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.active, addr)
	delete(m.ordering, addr)
	delete(m.decimals, addr)
	n := len(m.active)
	m.mu.Unlock()

	e.stop()
	m.deps.Metrics.SetActivePairs(n)

	if err := m.deps.Store.Delete(ctx, e.pair.Pair); err != nil {
		return fmt.Errorf("delete %s: %w", e.pair.Pair, err)
	}
	m.deps.Metrics.RecordStoreWrite("delete")

	m.logger.WithField("pair", e.pair.Pair).Info("Removed pair")
	return nil
}

// RemoveAll stops every subscription and clears in-memory state. The store
// is left untouched so pairs are restored on the next start.
func (m *Manager) RemoveAll() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.active))
	for _, e := range m.active {
		entries = append(entries, e)
	}
	clear(m.active)
	clear(m.ordering)
	clear(m.decimals)
	m.mu.Unlock()

	for _, e := range entries {
		e.stop()
	}
	m.deps.Metrics.SetActivePairs(0)
	m.logger.WithField("pairs", len(entries)).Info("Removed all listeners")
}

// ThrottledUpdate persists lastBoughtAt for pair only when ThrottleWindow
// has elapsed since the last write. It reports whether a write happened.
func (m *Manager) ThrottledUpdate(ctx context.Context, pair string) (bool, error) {
	addr := common.HexToAddress(pair)
	now := m.now()

	m.mu.Lock()
	e, ok := m.active[addr]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	if now.UnixMilli()-e.lastBoughtAt < m.cfg.ThrottleWindow.Milliseconds() {
		m.mu.Unlock()
		return false, nil
	}
	e.lastBoughtAt = now.UnixMilli()
	m.mu.Unlock()

	if err := m.deps.Store.UpdateLastBought(ctx, e.pair.Pair, now); err != nil {
		return false, err
	}
	m.deps.Metrics.RecordStoreWrite("update_last_bought")
	m.logger.WithField("pair", e.pair.Pair).Debug("Updated lastBoughtAt")
	return true, nil
}

// Active returns the active pairs sorted by address.
func (m *Manager) Active() []models.TrackedPair {
	m.mu.RLock()
	out := make([]models.TrackedPair, 0, len(m.active))
	for _, e := range m.active {
		out = append(out, e.pair)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.TrackedPair) int {
		return strings.Compare(a.Pair, b.Pair)
	})
	return out
}

// Ordering returns the meme token's slot for an active pair.
func (m *Manager) Ordering(pair string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.ordering[common.HexToAddress(pair)]
	return o, ok
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Wait blocks until every subscription loop and in-flight handler has
// returned. Call it after RemoveAll.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) isActive(addr common.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[addr]
	return ok
}

// isCurrent reports whether e is still the live entry for its pair. A pair
// that was removed and re-added gets a new entry.
func (m *Manager) isCurrent(e *entry) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[e.addr] == e
}

func (e *entry) stop() {
	e.cancel()
	e.sub.Unsubscribe()
}

// resolveOrdering asks the pool for token0: 0 when it is the meme token.
func resolveOrdering(ctx context.Context, pool *chain.Pool, meme common.Address) (int, error) {
	token0, err := pool.Token0(ctx)
	if err != nil {
		return 0, err
	}
	if token0 == meme {
		return 0, nil
	}
	return 1, nil
}

// AddressOrdering derives the meme token's slot from the pool convention
// that the numerically lower address is token0.
func AddressOrdering(meme, base common.Address) int {
	if new(big.Int).SetBytes(meme.Bytes()).Cmp(new(big.Int).SetBytes(base.Bytes())) < 0 {
		return 0
	}
	return 1
}

func normalize(p models.TrackedPair) (models.TrackedPair, error) {
	for name, v := range map[string]string{
		"pair":             p.Pair,
		"memeTokenAddress": p.MemeTokenAddress,
		"baseTokenAddress": p.BaseTokenAddress,
	} {
		if !common.IsHexAddress(v) {
			return p, fmt.Errorf("%w: %s %q", ErrInvalidPair, name, v)
		}
	}
	p.Pair = common.HexToAddress(p.Pair).Hex()
	p.MemeTokenAddress = common.HexToAddress(p.MemeTokenAddress).Hex()
	p.BaseTokenAddress = common.HexToAddress(p.BaseTokenAddress).Hex()
	return p, nil
}
