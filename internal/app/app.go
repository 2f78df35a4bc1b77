// ============================================================================
// app/app.go - Service supervisor: restore, control plane, stale sweep, faults
// ============================================================================
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/backoff"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/bus"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/chain"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/config"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/listener"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/metrics"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/server"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	setupTimeout   = 30 * time.Second
	publishTimeout = 5 * time.Second
	faultBuffer    = 8
)

// ErrChainFault is returned by Run when a socket transport closes under the
// exit policy.
var ErrChainFault = errors.New("chain transport closed")

// Deps are the long-lived collaborators of an App. Store and Bus are owned
// by the App once passed in and closed by Close.
type Deps struct {
	Store   storage.PairStore
	Bus     bus.Bus
	Connect ConnectFunc
	Metrics *metrics.Metrics // Optional
	Logger  *logrus.Logger
}

// App supervises the listener manager for the lifetime of the process.
type App struct {
	cfg    *config.Config
	deps   Deps
	logger *logrus.Logger

	faults chan chain.Fault

	// lifecycle serializes control messages with restarts
	lifecycle sync.Mutex
	mu        sync.RWMutex
	client    chain.Client
	manager   *listener.Manager

	now func() time.Time
}

func New(cfg *config.Config, deps Deps) (*App, error) {
	if deps.Store == nil || deps.Bus == nil || deps.Connect == nil {
		return nil, errors.New("app: store, bus and connect are required")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	return &App{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
		faults: make(chan chain.Fault, faultBuffer),
		now:    time.Now,
	}, nil
}

// Start connects to the chain and restores every stored pair.
func (a *App) Start(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	return a.start(ctx)
}

func (a *App) start(ctx context.Context) error {
	client, err := a.deps.Connect(ctx, a.faults)
	if err != nil {
		return fmt.Errorf("connect chain: %w", err)
	}

	m := listener.NewManager(listener.Deps{
		Client:    client,
		Store:     a.deps.Store,
		Publisher: a.deps.Bus,
		Logger:    a.logger,
		Metrics:   a.deps.Metrics,
	}, listener.Config{
		BuysChannel:       a.cfg.Channels.Buys,
		ErrorsChannel:     a.cfg.Channels.Errors,
		MinAmountReceived: decimal.NewFromFloat(a.cfg.MinAmountReceived),
		ThrottleWindow:    a.cfg.DBWriteThrottle,
		Chain:             a.cfg.ChainName,
	})

	a.mu.Lock()
	a.client = client
	a.manager = m
	a.mu.Unlock()

	return a.restore(ctx, m)
}

// restore re-adds every stored pair. Individual failures are reported and
// skipped so one bad row cannot block the rest.
func (a *App) restore(ctx context.Context, m *listener.Manager) error {
	pairs, err := a.deps.Store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load stored pairs: %w", err)
	}

	restored := 0
	for _, p := range pairs {
		addCtx, cancel := context.WithTimeout(ctx, setupTimeout)
		err := m.Add(addCtx, p)
		cancel()
		if err != nil {
			a.logger.WithError(err).WithField("pair", p.Pair).Error("Failed to restore pair")
			a.reportError(err, p.Pair, "restore")
			continue
		}
		restored++
	}
	a.logger.WithFields(logrus.Fields{
		"stored":   len(pairs),
		"restored": restored,
	}).Info("Restored listeners from store")
	return nil
}

// Run starts the App and blocks until ctx is cancelled or a chain fault
// occurs under the exit policy. Listeners are torn down before it returns.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.stop()
		return err
	}

	var srv *server.Server
	if a.cfg.StatusAddr != "" {
		s, err := a.statusServer()
		if err != nil {
			a.stop()
			return err
		}
		srv = s
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.deps.Bus.Subscribe(ctx, a.cfg.Channels.TokenActions, a.HandleControl); err != nil {
			errCh <- fmt.Errorf("subscribe %s: %w", a.cfg.Channels.TokenActions, err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.staleLoop(ctx)
	}()

	if srv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.WithField("addr", a.cfg.StatusAddr).Info("status api starting")
			if err := srv.Start(); err != nil {
				errCh <- fmt.Errorf("status api: %w", err)
			}
		}()
	}

	a.logger.WithField("pairs", a.Len()).Info("Listener running")
	err := a.supervise(ctx, errCh)

	cancel()
	if srv != nil {
		if serr := srv.Shutdown(context.Background()); serr != nil {
			a.logger.WithError(serr).Warn("status api shutdown failed")
		}
	}
	a.stop()
	wg.Wait()
	return err
}

func (a *App) supervise(ctx context.Context, errCh <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case f := <-a.faults:
			a.deps.Metrics.RecordFault()
			log := a.logger.WithError(f.Err).WithField("endpoint", f.Endpoint)
			if a.cfg.FaultPolicy != config.FaultPolicyRestart {
				log.Error("Chain transport closed, exiting")
				return fmt.Errorf("%w: %s: %v", ErrChainFault, f.Endpoint, f.Err)
			}
			log.Warn("Chain transport closed, restarting listeners")
			if err := a.restart(ctx); err != nil {
				return err
			}
		}
	}
}

// restart drops every listener, re-probes the providers and restores pairs
// from the store. It retries with backoff until ctx is cancelled.
func (a *App) restart(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.teardown()
	a.drainFaults()

	for attempt := 1; ; attempt++ {
		err := a.start(ctx)
		if err == nil {
			a.logger.WithField("attempt", attempt).Info("Listeners restarted")
			return nil
		}
		a.teardown()
		if ctx.Err() != nil {
			return nil
		}
		wait := backoff.Duration(attempt)
		a.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"retryIn": wait.String(),
		}).Error("Restart failed")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// stop removes every listener and closes the chain client. The store keeps
// its rows so the next start restores them.
func (a *App) stop() {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	a.teardown()
}

func (a *App) teardown() {
	a.mu.Lock()
	m, client := a.manager, a.client
	a.manager, a.client = nil, nil
	a.mu.Unlock()

	if m != nil {
		m.RemoveAll()
		m.Wait()
	}
	if client != nil {
		client.Close()
	}
}

// drainFaults discards faults raised by the client that was just closed.
func (a *App) drainFaults() {
	for {
		select {
		case <-a.faults:
		default:
			return
		}
	}
}

// Close releases the store and the bus.
func (a *App) Close() error {
	return errors.Join(a.deps.Store.Close(), a.deps.Bus.Close())
}

func (a *App) statusServer() (*server.Server, error) {
	return server.NewServer(server.ServerDeps{
		Handlers: &server.Handlers{
			Pairs:   a,
			Bus:     a.deps.Bus,
			Metrics: a.deps.Metrics,
			DevMode: a.cfg.DevMode,
			Logger:  a.logger,
		},
		Config: server.ServerConfig{
			Addr:    a.cfg.StatusAddr,
			DevMode: a.cfg.DevMode,
			APIKey:  a.cfg.StatusAPIKey,
		},
	})
}

func (a *App) current() *listener.Manager {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.manager
}

// Active lists the pairs of the current manager.
func (a *App) Active() []models.TrackedPair {
	if m := a.current(); m != nil {
		return m.Active()
	}
	return nil
}

func (a *App) Ordering(pair string) (int, bool) {
	if m := a.current(); m != nil {
		return m.Ordering(pair)
	}
	return 0, false
}

func (a *App) Len() int {
	if m := a.current(); m != nil {
		return m.Len()
	}
	return 0
}

// publishInfo sends an InfoMessage, logging instead of failing.
func (a *App) publishInfo(msg string, pairs ...models.TrackedPair) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := a.deps.Bus.Publish(ctx, a.cfg.Channels.Info, models.NewInfoMessage(msg, pairs...)); err != nil {
		a.logger.WithError(err).WithField("message", msg).Warn("Failed to publish info")
	}
}

func (a *App) reportError(err error, pair, where string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	report := models.NewErrorReport(err, pair, map[string]string{"context": where})
	if perr := a.deps.Bus.Publish(ctx, a.cfg.Channels.Errors, report); perr != nil {
		a.logger.WithError(perr).WithField("pair", pair).Warn("Failed to publish error report")
	}
}
