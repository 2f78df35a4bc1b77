// ============================================================================
// bus/bus.go - Pub/Sub transport abstraction
// ============================================================================
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Handler processes one raw message from a channel.
type Handler func(ctx context.Context, payload []byte)

// Publisher sends a payload to a named channel. Strings and byte slices are
// sent as-is, anything else is JSON encoded.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// Bus is a Pub/Sub transport with at-most-once delivery.
type Bus interface {
	Publisher

	// Subscribe blocks, dispatching messages on channel to h one at a time
	// until ctx is cancelled. Transport failures are retried with backoff
	Subscribe(ctx context.Context, channel string, h Handler) error

	// Ping checks if the transport is reachable
	Ping(ctx context.Context) error

	// Close releases the underlying connections
	io.Closer
}

// Keyed payloads choose their partition key on transports that have one.
type Keyed interface {
	PartitionKey() string
}

// Encode turns a payload into wire bytes.
func Encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return b, nil
	}
}
