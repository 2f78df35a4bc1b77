// ============================================================================
// cmd/subscriber/main.go - Example Subscriber (Consumer)
// ============================================================================
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/app"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/bus"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/config"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func loadEnv() {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	_ = godotenv.Load(filepath.Join(projectRoot, ".env"))
}

func main() {
	loadEnv()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})

	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Consumers only need the bus, so the store is never opened here
	b, err := app.OpenBus(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect message bus")
	}
	defer b.Close()

	handlers := map[string]bus.Handler{
		cfg.Channels.Buys: func(_ context.Context, payload []byte) {
			var t models.TradeResult
			if err := json.Unmarshal(payload, &t); err != nil {
				logger.WithError(err).Warn("undecodable buy")
				return
			}
			logger.WithFields(logrus.Fields{
				"pair":   t.Pair,
				"buyer":  t.Sender,
				"amount": t.AmountReceived,
				"cost":   t.Cost,
				"price":  t.TokenPrice,
				"tx":     t.TxnHash,
			}).Info("buy")
		},
		cfg.Channels.Info: func(_ context.Context, payload []byte) {
			var m models.InfoMessage
			if err := json.Unmarshal(payload, &m); err != nil {
				logger.WithError(err).Warn("undecodable info")
				return
			}
			logger.WithFields(logrus.Fields{"pairs": len(m.Pairs)}).Info(m.Message)
		},
		cfg.Channels.Errors: func(_ context.Context, payload []byte) {
			var r models.ErrorReport
			if err := json.Unmarshal(payload, &r); err != nil {
				logger.WithError(err).Warn("undecodable error report")
				return
			}
			logger.WithFields(logrus.Fields{
				"pair":    r.Pair,
				"context": r.Context,
				"tx":      r.TxHash,
			}).Warn(r.Error)
		},
	}

	var wg sync.WaitGroup
	for channel, h := range handlers {
		channel, h := channel, h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Subscribe(ctx, channel, h); err != nil {
				logger.WithError(err).WithField("channel", channel).Error("subscribe failed")
			}
		}()
	}

	logger.WithField("bus", cfg.BusDriver).Info("subscriber running, press Ctrl+C to stop")
	<-ctx.Done()
	logger.Info("shutting down subscriber")
	wg.Wait()
}
