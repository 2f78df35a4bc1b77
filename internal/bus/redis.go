// ============================================================================
// bus/redis.go - Redis Pub/Sub transport
// ============================================================================
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/backoff"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/constants"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisConfig holds configuration for RedisBus
type RedisConfig struct {
	URL    string // redis://[:password@]host:port/db
	Logger *logrus.Logger
}

// RedisBus publishes and subscribes over Redis Pub/Sub. go-redis keeps the
// subscriber connection alive; RedisBus only retries the initial SUBSCRIBE.
type RedisBus struct {
	client *redis.Client
	logger *logrus.Logger
}

var _ Bus = (*RedisBus)(nil)

func NewRedisBus(cfg RedisConfig) (*RedisBus, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.MinRetryBackoff = constants.BackoffBase
	opts.MaxRetryBackoff = constants.BackoffMax

	return NewRedisBusWithClient(redis.NewClient(opts), cfg.Logger), nil
}

// NewRedisBusWithClient wraps an existing client.
func NewRedisBusWithClient(client *redis.Client, logger *logrus.Logger) *RedisBus {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisBus{client: client, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := Encode(payload)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string, h Handler) error {
	log := b.logger.WithField("channel", channel)

	for attempt := 1; ; attempt++ {
		pubsub := b.client.Subscribe(ctx, channel)
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return nil
			}
			wait := backoff.Duration(attempt)
			log.WithError(err).WithField("retry_in", wait).Warn("Redis subscribe failed, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}

		log.Info("Subscribed to channel")
		err := b.consume(ctx, pubsub, h)
		pubsub.Close()
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		log.WithError(err).Warn("Redis subscription dropped, resubscribing")
		attempt = 0
	}
}

func (b *RedisBus) consume(ctx context.Context, pubsub *redis.PubSub, h Handler) error {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			h(ctx, []byte(msg.Payload))
		}
	}
}

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
