package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
)

// ErrNotFound is returned when a pair has no stored row.
var ErrNotFound = errors.New("pair not found")

// PairStore defines the interface for persistent tracked-pair storage.
// Rows are keyed by pair address; LastBoughtAt is epoch milliseconds.
type PairStore interface {
	// Upsert inserts or replaces the row for pair.Pair
	Upsert(ctx context.Context, pair models.TrackedPair) error

	// Delete removes the row for pair. Deleting a missing row is not an error
	Delete(ctx context.Context, pair string) error

	// GetAll returns every stored pair
	GetAll(ctx context.Context) ([]models.TrackedPair, error)

	// GetStale returns pairs with lastBoughtAt at or before cutoff
	GetStale(ctx context.Context, cutoff time.Time) ([]models.TrackedPair, error)

	// UpdateLastBought moves lastBoughtAt for pair. Returns ErrNotFound when
	// the pair has no row
	UpdateLastBought(ctx context.Context, pair string, at time.Time) error

	// Ping checks if the store is reachable
	Ping(ctx context.Context) error

	// Close closes the store connection
	io.Closer
}

// Millis converts t to the epoch-millisecond form stored in lastBoughtAt.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
