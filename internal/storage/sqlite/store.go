// ============================================================================
// storage/sqlite/store.go - Embedded pair store
// ============================================================================
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/storage"
	_ "github.com/glebarez/go-sqlite"
	"github.com/sirupsen/logrus"
)

var schema = []string{`
	CREATE TABLE IF NOT EXISTS tokensDB (
		pair               TEXT PRIMARY KEY,
		memeTokenAddress   TEXT NOT NULL,
		baseTokenAddress   TEXT NOT NULL,
		memeTokenDecimals  INTEGER NOT NULL,
		baseTokenDecimals  INTEGER NOT NULL,
		lastBoughtAt       INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_lastBoughtAt ON tokensDB(lastBoughtAt);`,
}

const selectColumns = `SELECT pair, memeTokenAddress, baseTokenAddress, memeTokenDecimals, baseTokenDecimals, lastBoughtAt FROM tokensDB`

// Config holds configuration for the SQLite store
type Config struct {
	Path   string
	Logger *logrus.Logger
}

// PairStore keeps tracked pairs in a single SQLite file with WAL enabled.
type PairStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

var _ storage.PairStore = (*PairStore)(nil)

// New opens (or creates) the database file and its table. The parent
// directory is created when missing.
func New(cfg Config) (*PairStore, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// a single connection serialises writers and keeps pragmas in effect
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create tokensDB table: %w", err)
		}
	}

	cfg.Logger.WithField("path", cfg.Path).Info("SQLite pair store ready")
	return &PairStore{db: db, logger: cfg.Logger}, nil
}

func (s *PairStore) Upsert(ctx context.Context, p models.TrackedPair) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokensDB (pair, memeTokenAddress, baseTokenAddress, memeTokenDecimals, baseTokenDecimals, lastBoughtAt)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair) DO UPDATE SET
			memeTokenAddress = excluded.memeTokenAddress,
			baseTokenAddress = excluded.baseTokenAddress,
			memeTokenDecimals = excluded.memeTokenDecimals,
			baseTokenDecimals = excluded.baseTokenDecimals,
			lastBoughtAt = excluded.lastBoughtAt`,
		p.Pair, p.MemeTokenAddress, p.BaseTokenAddress, p.MemeTokenDecimals, p.BaseTokenDecimals, p.LastBoughtAt,
	)
	if err != nil {
		return fmt.Errorf("upsert pair %s: %w", p.Pair, err)
	}
	s.logger.WithField("pair", p.Pair).Debug("upserted pair")
	return nil
}

func (s *PairStore) Delete(ctx context.Context, pair string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tokensDB WHERE pair = ?", pair); err != nil {
		return fmt.Errorf("delete pair %s: %w", pair, err)
	}
	s.logger.WithField("pair", pair).Debug("deleted pair")
	return nil
}

func (s *PairStore) GetAll(ctx context.Context) ([]models.TrackedPair, error) {
	return s.query(ctx, selectColumns)
}

func (s *PairStore) GetStale(ctx context.Context, cutoff time.Time) ([]models.TrackedPair, error) {
	return s.query(ctx, selectColumns+" WHERE lastBoughtAt <= ?", storage.Millis(cutoff))
}

func (s *PairStore) UpdateLastBought(ctx context.Context, pair string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE tokensDB SET lastBoughtAt = ? WHERE pair = ?", storage.Millis(at), pair)
	if err != nil {
		return fmt.Errorf("update lastBoughtAt for %s: %w", pair, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update lastBoughtAt for %s: %w", pair, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, pair)
	}
	return nil
}

func (s *PairStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PairStore) Close() error {
	s.logger.Info("SQLite pair store closed")
	return s.db.Close()
}

func (s *PairStore) query(ctx context.Context, q string, args ...any) ([]models.TrackedPair, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pairs: %w", err)
	}
	defer rows.Close()

	var out []models.TrackedPair
	for rows.Next() {
		var p models.TrackedPair
		if err := rows.Scan(&p.Pair, &p.MemeTokenAddress, &p.BaseTokenAddress, &p.MemeTokenDecimals, &p.BaseTokenDecimals, &p.LastBoughtAt); err != nil {
			return nil, fmt.Errorf("failed to scan pair: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
