package app

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/samber/lo"
)

const staleMessage = "stale-pairs check"

func (a *App) staleLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.StaleScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.CheckStale(ctx); err != nil && ctx.Err() == nil {
				a.logger.WithError(err).Error("Stale pair check failed")
			}
		}
	}
}

// CheckStale reports pairs with no buy since STALE_PAIR_THRESHOLD on the
// info channel. Stale pairs stay tracked.
func (a *App) CheckStale(ctx context.Context) ([]models.TrackedPair, error) {
	cutoff := a.now().Add(-a.cfg.StalePairThreshold)
	stale, err := a.deps.Store.GetStale(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stale pairs: %w", err)
	}
	a.deps.Metrics.SetStalePairs(len(stale))
	if len(stale) == 0 {
		return nil, nil
	}

	a.logger.WithField("pairs", lo.Map(stale, func(p models.TrackedPair, _ int) string {
		return p.Pair
	})).Warn("Stale pairs found")
	a.publishInfo(staleMessage, stale...)
	return stale, nil
}
