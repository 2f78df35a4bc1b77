// ============================================================================
// cmd/listener/main.go - Swap listener service
// ============================================================================
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/app"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/config"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/metrics"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// env bootstrap function
func loadEnv(logger *logrus.Logger) {
	// Get the project root directory (where go.mod is)
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	envPath := filepath.Join(projectRoot, ".env")

	if err := godotenv.Load(envPath); err != nil {
		logger.Warnf("no .env file found at %s, using system environment variables", envPath)
	} else {
		logger.Infof("loaded .env from %s", envPath)
	}
}

// configureLogger applies LOG_LEVEL, LOG_FORMAT and LOG_DIR. The returned
// closer flushes the log file, if any.
func configureLogger(logger *logrus.Logger, cfg *config.Config) (io.Closer, error) {
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.WithField("level", cfg.LogLevel).Warn("unknown LOG_LEVEL, keeping info")
	}

	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	if cfg.LogDir == "" {
		return io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, err
	}
	name := filepath.Join(cfg.LogDir, "listener-"+time.Now().Format("2006-01-02")+".log")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, f))
	logger.WithField("file", name).Info("logging to file")
	return f, nil
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(logrus.InfoLevel)

	// load .env BEFORE anything reads os.Getenv
	loadEnv(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	logFile, err := configureLogger(logger, cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to open log file")
	}

	// Cancelled on Ctrl+C or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, logger)
	cancel()
	_ = logFile.Close()
	os.Exit(code)
}

// run owns every resource so deferred cleanup happens before os.Exit.
func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) int {
	startCtx, cancelStart := context.WithTimeout(ctx, 30*time.Second)
	defer cancelStart()

	store, err := app.OpenStore(startCtx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to open pair store")
		return 1
	}

	b, err := app.OpenBus(startCtx, cfg, logger)
	if err != nil {
		_ = store.Close()
		logger.WithError(err).Error("failed to connect message bus")
		return 1
	}

	m := metrics.New()
	svc, err := app.New(cfg, app.Deps{
		Store:   store,
		Bus:     b,
		Connect: app.Connector(cfg, m, logger),
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		_ = store.Close()
		_ = b.Close()
		logger.WithError(err).Error("failed to build listener")
		return 1
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.WithError(err).Warn("close failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"chain":     cfg.ChainName,
		"providers": len(cfg.RPCProviders),
		"bus":       cfg.BusDriver,
		"store":     cfg.StoreDriver,
		"policy":    cfg.FaultPolicy,
	}).Info("starting swap listener")

	if err := svc.Run(ctx); err != nil {
		if errors.Is(err, app.ErrChainFault) {
			logger.WithError(err).Error("exiting so the process supervisor can restart us")
		} else {
			logger.WithError(err).Error("listener stopped")
		}
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}
