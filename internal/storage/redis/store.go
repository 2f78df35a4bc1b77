// ============================================================================
// storage/redis/store.go - Redis-backed pair store
// ============================================================================
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/storage"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// indexKey is a sorted set of pair addresses scored by lastBoughtAt
	indexKey    = "pairs:index"
	valuePrefix = "pairs:"
)

// PairStore keeps one JSON value per pair plus a lastBoughtAt index, so
// stale scans are a single range query.
type PairStore struct {
	client goredis.UniversalClient
}

var _ storage.PairStore = (*PairStore)(nil)

func New(client goredis.UniversalClient) (*PairStore, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	return &PairStore{client: client}, nil
}

// NewFromURL parses a redis:// URL and connects.
func NewFromURL(ctx context.Context, url string) (*PairStore, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client)
}

func (s *PairStore) Upsert(ctx context.Context, p models.TrackedPair) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pair: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, pairKey(p.Pair), b, 0)
	pipe.ZAdd(ctx, indexKey, goredis.Z{Score: float64(p.LastBoughtAt), Member: p.Pair})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert pair %s: %w", p.Pair, err)
	}
	return nil
}

func (s *PairStore) Delete(ctx context.Context, pair string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, pairKey(pair))
	pipe.ZRem(ctx, indexKey, pair)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete pair %s: %w", pair, err)
	}
	return nil
}

func (s *PairStore) GetAll(ctx context.Context) ([]models.TrackedPair, error) {
	pairs, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list pairs index: %w", err)
	}
	return s.load(ctx, pairs)
}

func (s *PairStore) GetStale(ctx context.Context, cutoff time.Time) ([]models.TrackedPair, error) {
	pairs, err := s.client.ZRangeByScore(ctx, indexKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(storage.Millis(cutoff), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range pairs index: %w", err)
	}
	return s.load(ctx, pairs)
}

// UpdateLastBought rewrites the value and its index score in one optimistic
// transaction on the pair key.
func (s *PairStore) UpdateLastBought(ctx context.Context, pair string, at time.Time) error {
	key := pairKey(pair)
	ms := storage.Millis(at)

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if err == goredis.Nil {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, pair)
		}
		if err != nil {
			return err
		}

		var p models.TrackedPair
		if err := json.Unmarshal([]byte(val), &p); err != nil {
			return fmt.Errorf("unmarshal pair: %w", err)
		}
		p.LastBoughtAt = ms
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal pair: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			pipe.ZAdd(ctx, indexKey, goredis.Z{Score: float64(ms), Member: pair})
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return fmt.Errorf("update lastBoughtAt for %s: %w", pair, err)
	}
	return nil
}

func (s *PairStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *PairStore) Close() error {
	return s.client.Close()
}

func (s *PairStore) load(ctx context.Context, pairs []string) ([]models.TrackedPair, error) {
	if len(pairs) == 0 {
		return []models.TrackedPair{}, nil
	}

	keys := make([]string, len(pairs))
	for i, p := range pairs {
		keys[i] = pairKey(p)
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget pairs: %w", err)
	}

	out := make([]models.TrackedPair, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var p models.TrackedPair
		if err := json.Unmarshal([]byte(str), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func pairKey(pair string) string {
	return valuePrefix + pair
}
