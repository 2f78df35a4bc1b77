// Package storagetest holds the behaviour every PairStore backend must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/storage"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	PoolA = "0xd0b53d9277642d899df5c87a3966a349a798f224"
	PoolB = "0x88A43bbDF9D098eEC7bCEda4e2494615dfD9bB9C"
	WETH  = "0x4200000000000000000000000000000000000006"
	USDC  = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
)

// Pair returns a fixture row for pool.
func Pair(pool string, lastBought time.Time) models.TrackedPair {
	return models.TrackedPair{
		Pair:              pool,
		MemeTokenAddress:  WETH,
		BaseTokenAddress:  USDC,
		MemeTokenDecimals: 18,
		BaseTokenDecimals: 6,
		LastBoughtAt:      storage.Millis(lastBought),
	}
}

// Run exercises s against the shared PairStore contract. s must start empty.
func Run(t *testing.T, s storage.PairStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, s.Ping(ctx))
	})

	t.Run("UpsertAndGetAll", func(t *testing.T) {
		require.NoError(t, s.Upsert(ctx, Pair(PoolA, now)))
		require.NoError(t, s.Upsert(ctx, Pair(PoolB, now.Add(-96*time.Hour))))

		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)

		byPair := lo.KeyBy(all, func(p models.TrackedPair) string { return p.Pair })
		assert.Equal(t, Pair(PoolA, now), byPair[PoolA])
	})

	t.Run("UpsertReplaces", func(t *testing.T) {
		p := Pair(PoolA, now)
		p.MemeTokenDecimals = 9
		require.NoError(t, s.Upsert(ctx, p))

		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)

		byPair := lo.KeyBy(all, func(p models.TrackedPair) string { return p.Pair })
		assert.Equal(t, uint8(9), byPair[PoolA].MemeTokenDecimals)
	})

	t.Run("GetStale", func(t *testing.T) {
		stale, err := s.GetStale(ctx, now.Add(-72*time.Hour))
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, PoolB, stale[0].Pair)
	})

	t.Run("GetStaleIsInclusive", func(t *testing.T) {
		stale, err := s.GetStale(ctx, now)
		require.NoError(t, err)
		assert.Len(t, stale, 2)
	})

	t.Run("UpdateLastBought", func(t *testing.T) {
		require.NoError(t, s.UpdateLastBought(ctx, PoolB, now))

		stale, err := s.GetStale(ctx, now.Add(-72*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, stale)
	})

	t.Run("UpdateLastBoughtMissing", func(t *testing.T) {
		err := s.UpdateLastBought(ctx, "0x0000000000000000000000000000000000000001", now)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, PoolA))
		require.NoError(t, s.Delete(ctx, PoolA))

		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, PoolB, all[0].Pair)
	})
}
