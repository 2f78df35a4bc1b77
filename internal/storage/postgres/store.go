// ============================================================================
// storage/postgres/store.go - Server-backed pair store
// ============================================================================
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const schema = `
	CREATE TABLE IF NOT EXISTS tracked_pairs (
		pair                TEXT PRIMARY KEY,
		meme_token_address  TEXT NOT NULL,
		base_token_address  TEXT NOT NULL,
		meme_token_decimals SMALLINT NOT NULL,
		base_token_decimals SMALLINT NOT NULL,
		last_bought_at      BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tracked_pairs_last_bought_at ON tracked_pairs (last_bought_at);
`

const selectColumns = `
	SELECT pair, meme_token_address, base_token_address, meme_token_decimals, base_token_decimals, last_bought_at
	FROM tracked_pairs`

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// PairStore implements storage.PairStore using PostgreSQL.
type PairStore struct {
	pool   *Pool
	logger *logrus.Logger
}

var _ storage.PairStore = (*PairStore)(nil)

// New connects to dsn and creates the tracked_pairs table if needed.
func New(ctx context.Context, dsn string, logger *logrus.Logger) (*PairStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s, err := NewWithPool(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool uses an existing pool and applies the schema.
func NewWithPool(ctx context.Context, pool *Pool, logger *logrus.Logger) (*PairStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("create tracked_pairs table: %w", err)
	}
	logger.Info("Postgres pair store ready")
	return &PairStore{pool: pool, logger: logger}, nil
}

func (s *PairStore) Upsert(ctx context.Context, p models.TrackedPair) error {
	query := `
		INSERT INTO tracked_pairs (
			pair, meme_token_address, base_token_address, meme_token_decimals, base_token_decimals, last_bought_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pair) DO UPDATE SET
			meme_token_address = EXCLUDED.meme_token_address,
			base_token_address = EXCLUDED.base_token_address,
			meme_token_decimals = EXCLUDED.meme_token_decimals,
			base_token_decimals = EXCLUDED.base_token_decimals,
			last_bought_at = EXCLUDED.last_bought_at
	`

	_, err := s.pool.Exec(ctx, query,
		p.Pair,
		p.MemeTokenAddress,
		p.BaseTokenAddress,
		int16(p.MemeTokenDecimals),
		int16(p.BaseTokenDecimals),
		p.LastBoughtAt,
	)
	if err != nil {
		return fmt.Errorf("upsert pair %s: %w", p.Pair, err)
	}
	return nil
}

func (s *PairStore) Delete(ctx context.Context, pair string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM tracked_pairs WHERE pair = $1`, pair); err != nil {
		return fmt.Errorf("delete pair %s: %w", pair, err)
	}
	return nil
}

func (s *PairStore) GetAll(ctx context.Context) ([]models.TrackedPair, error) {
	return s.query(ctx, selectColumns)
}

func (s *PairStore) GetStale(ctx context.Context, cutoff time.Time) ([]models.TrackedPair, error) {
	return s.query(ctx, selectColumns+` WHERE last_bought_at <= $1`, storage.Millis(cutoff))
}

func (s *PairStore) UpdateLastBought(ctx context.Context, pair string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tracked_pairs SET last_bought_at = $1 WHERE pair = $2`, storage.Millis(at), pair)
	if err != nil {
		return fmt.Errorf("update last_bought_at for %s: %w", pair, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, pair)
	}
	return nil
}

func (s *PairStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PairStore) Close() error {
	s.pool.Close()
	s.logger.Info("Postgres pair store closed")
	return nil
}

func (s *PairStore) query(ctx context.Context, q string, args ...any) ([]models.TrackedPair, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query pairs: %w", err)
	}
	pairs, err := pgx.CollectRows(rows, scanPair)
	if err != nil {
		return nil, fmt.Errorf("scan pairs: %w", err)
	}
	return pairs, nil
}

func scanPair(row pgx.CollectableRow) (models.TrackedPair, error) {
	var p models.TrackedPair
	var memeDec, baseDec int16
	err := row.Scan(&p.Pair, &p.MemeTokenAddress, &p.BaseTokenAddress, &memeDec, &baseDec, &p.LastBoughtAt)
	p.MemeTokenDecimals = uint8(memeDec)
	p.BaseTokenDecimals = uint8(baseDec)
	return p, err
}
