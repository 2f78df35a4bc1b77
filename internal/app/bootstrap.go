// ============================================================================
// app/bootstrap.go - Builds the store, bus and chain client from config
// ============================================================================
package app

import (
	"context"
	"fmt"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/bus"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/chain"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/config"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/metrics"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/storage"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/storage/clickhouse"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/storage/postgres"
	redisstore "github.com/aman-zulfiqar/evm-swap-listener/internal/storage/redis"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/storage/sqlite"
	"github.com/sirupsen/logrus"
)

// ConnectFunc resolves a chain client. Socket closures are sent on faults.
type ConnectFunc func(ctx context.Context, faults chan<- chain.Fault) (chain.Client, error)

// OpenStore opens the pair store selected by STORE_DRIVER.
func OpenStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (storage.PairStore, error) {
	var (
		s   storage.PairStore
		err error
	)
	switch cfg.StoreDriver {
	case "sqlite":
		s, err = sqlite.New(sqlite.Config{Path: cfg.DBPath, Logger: logger})
	case "postgres":
		s, err = postgres.New(ctx, cfg.PostgresDSN, logger)
	case "clickhouse":
		s, err = clickhouse.New(ctx, clickhouse.Config{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
			Logger:   logger,
		})
	case "redis":
		s, err = redisstore.NewFromURL(ctx, cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("ping %s store: %w", cfg.StoreDriver, err)
	}
	logger.WithField("driver", cfg.StoreDriver).Info("pair store ready")
	return s, nil
}

// OpenBus connects the Pub/Sub transport selected by BUS_DRIVER.
func OpenBus(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (bus.Bus, error) {
	var (
		b   bus.Bus
		err error
	)
	switch cfg.BusDriver {
	case "redis":
		b, err = bus.NewRedisBus(bus.RedisConfig{URL: cfg.RedisURL, Logger: logger})
	case "kafka":
		b, err = bus.NewKafkaBus(bus.KafkaConfig{
			Brokers:       cfg.KafkaBrokers,
			ConsumerGroup: cfg.KafkaGroupID,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.BusDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s bus: %w", cfg.BusDriver, err)
	}
	if err := b.Ping(ctx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("ping %s bus: %w", cfg.BusDriver, err)
	}
	logger.WithField("driver", cfg.BusDriver).Info("message bus ready")
	return b, nil
}

// Connector probes the configured RPC providers and wraps the result in a
// read cache.
func Connector(cfg *config.Config, m *metrics.Metrics, logger *logrus.Logger) ConnectFunc {
	return func(ctx context.Context, faults chan<- chain.Fault) (chain.Client, error) {
		client, err := chain.Resolve(ctx, chain.ResolverConfig{
			URLs:              cfg.RPCProviders,
			ProbeTimeout:      cfg.ProbeTimeout,
			CallTimeout:       cfg.CallTimeout,
			KeepaliveInterval: cfg.KeepaliveInterval,
			PollInterval:      cfg.PollInterval,
			RateLimit:         cfg.RateLimit,
			Faults:            faults,
			OnFailover:        m.RecordFailover,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		cached, err := chain.NewCachedClient(client, chain.CacheConfig{
			MaxItems: cfg.CacheMaxItems,
			TTL:      cfg.CacheTTL,
		})
		if err != nil {
			client.Close()
			return nil, err
		}
		return cached, nil
	}
}
