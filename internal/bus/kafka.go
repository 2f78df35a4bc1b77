// ============================================================================
// bus/kafka.go - Kafka transport (one topic per channel)
// ============================================================================
package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/backoff"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Logger        *logrus.Logger
}

// KafkaBus maps each channel name onto a topic of the same name.
type KafkaBus struct {
	cfg    KafkaConfig
	writer *kafka.Writer
	logger *logrus.Logger

	mu      sync.Mutex
	readers []*kafka.Reader
	closed  bool
}

var _ Bus = (*KafkaBus)(nil)

func NewKafkaBus(cfg KafkaConfig) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaBus{cfg: cfg, writer: writer, logger: cfg.Logger}, nil
}

// Message builds the record Publish writes. Keyed payloads keep all
// messages for one pair on one partition.
func Message(channel string, payload any) (kafka.Message, error) {
	data, err := Encode(payload)
	if err != nil {
		return kafka.Message{}, err
	}
	msg := kafka.Message{
		Topic: channel,
		Value: data,
		Time:  time.Now(),
	}
	if k, ok := payload.(Keyed); ok {
		msg.Key = []byte(k.PartitionKey())
	}
	return msg, nil
}

func (b *KafkaBus) Publish(ctx context.Context, channel string, payload any) error {
	msg, err := Message(channel, payload)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (b *KafkaBus) Subscribe(ctx context.Context, channel string, h Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.cfg.Brokers,
		Topic:       channel,
		GroupID:     b.cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	if !b.track(reader) {
		reader.Close()
		return errors.New("kafka bus closed")
	}
	defer reader.Close()

	log := b.logger.WithField("channel", channel)
	log.Info("Subscribed to topic")

	attempt := 0
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			attempt++
			wait := backoff.Duration(attempt)
			log.WithError(err).WithField("retry_in", wait).Warn("Kafka read failed, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0
		h(ctx, msg.Value)
	}
}

func (b *KafkaBus) track(r *kafka.Reader) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.readers = append(b.readers, r)
	return true
}

func (b *KafkaBus) Ping(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", b.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka: %w", err)
	}
	return conn.Close()
}

func (b *KafkaBus) Close() error {
	b.mu.Lock()
	b.closed = true
	readers := b.readers
	b.readers = nil
	b.mu.Unlock()

	errs := []error{b.writer.Close()}
	for _, r := range readers {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}
