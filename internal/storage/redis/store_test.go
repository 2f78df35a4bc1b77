package redis

import (
	"context"
	"testing"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/storage/storagetest"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *goredis.Client {
	client := goredis.NewClient(&goredis.Options{
		Addr: "localhost:6379",
		DB:   2, // Use different DB for tests
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	require.NoError(t, client.FlushDB(ctx).Err())
	return client
}

func cleanupTestRedis(_ *testing.T, client *goredis.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = client.FlushDB(ctx).Err()
	_ = client.Close()
}

func TestNew_NilClient(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestPairStore_Contract(t *testing.T) {
	client := setupTestRedis(t)
	defer cleanupTestRedis(t, client)

	s, err := New(client)
	require.NoError(t, err)

	storagetest.Run(t, s)
}

func TestPairStore_SkipsCorruptValues(t *testing.T) {
	client := setupTestRedis(t)
	defer cleanupTestRedis(t, client)

	s, err := New(client)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, storagetest.Pair(storagetest.PoolA, time.Now())))
	require.NoError(t, client.Set(ctx, pairKey(storagetest.PoolA), "{not json", 0).Err())

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
