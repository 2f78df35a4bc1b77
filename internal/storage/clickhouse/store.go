// ============================================================================
// storage/clickhouse/store.go - Columnar pair store
// ============================================================================
package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/storage"
	"github.com/sirupsen/logrus"
)

// Config holds configuration for the ClickHouse store
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string // Defaults to tracked_pairs
	Logger   *logrus.Logger
}

// PairStore keeps tracked pairs in a ReplacingMergeTree. Every write inserts
// a new row version; deletes insert a tombstone. Reads use FINAL so only the
// latest live version of each pair is returned.
type PairStore struct {
	conn   driver.Conn
	table  string
	logger *logrus.Logger

	mu      sync.Mutex
	version uint64
}

var _ storage.PairStore = (*PairStore)(nil)

type pairRow struct {
	Pair              string `ch:"pair"`
	MemeTokenAddress  string `ch:"meme_token_address"`
	BaseTokenAddress  string `ch:"base_token_address"`
	MemeTokenDecimals uint8  `ch:"meme_token_decimals"`
	BaseTokenDecimals uint8  `ch:"base_token_decimals"`
	LastBoughtAt      int64  `ch:"last_bought_at"`
}

func (r pairRow) model() models.TrackedPair {
	return models.TrackedPair{
		Pair:              r.Pair,
		MemeTokenAddress:  r.MemeTokenAddress,
		BaseTokenAddress:  r.BaseTokenAddress,
		MemeTokenDecimals: r.MemeTokenDecimals,
		BaseTokenDecimals: r.BaseTokenDecimals,
		LastBoughtAt:      r.LastBoughtAt,
	}
}

func New(ctx context.Context, cfg Config) (*PairStore, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Table == "" {
		cfg.Table = "tracked_pairs"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}

	conn, err := ch.Open(&ch.Options{
		Addr: []string{cfg.Addr},
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &ch.Compression{
			Method: ch.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &PairStore{conn: conn, table: cfg.Table, logger: cfg.Logger}
	if err := s.createTable(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create %s table: %w", cfg.Table, err)
	}

	cfg.Logger.WithFields(logrus.Fields{
		"addr":  cfg.Addr,
		"table": cfg.Table,
	}).Info("Connected to ClickHouse pair store")
	return s, nil
}

func (s *PairStore) createTable(ctx context.Context) error {
	return s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			pair                String,
			meme_token_address  String,
			base_token_address  String,
			meme_token_decimals UInt8,
			base_token_decimals UInt8,
			last_bought_at      Int64,
			version             UInt64,
			is_deleted          UInt8
		) ENGINE = ReplacingMergeTree(version, is_deleted)
		ORDER BY pair
	`, s.table))
}

// nextVersion is strictly increasing so two writes in the same nanosecond
// still order correctly.
func (s *PairStore) nextVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := uint64(time.Now().UnixNano())
	if v <= s.version {
		v = s.version + 1
	}
	s.version = v
	return v
}

func (s *PairStore) insert(ctx context.Context, p models.TrackedPair, deleted bool) error {
	var tombstone uint8
	if deleted {
		tombstone = 1
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (
			pair, meme_token_address, base_token_address, meme_token_decimals,
			base_token_decimals, last_bought_at, version, is_deleted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.table)

	return s.conn.Exec(ctx, query,
		p.Pair,
		p.MemeTokenAddress,
		p.BaseTokenAddress,
		p.MemeTokenDecimals,
		p.BaseTokenDecimals,
		p.LastBoughtAt,
		s.nextVersion(),
		tombstone,
	)
}

func (s *PairStore) Upsert(ctx context.Context, p models.TrackedPair) error {
	if err := s.insert(ctx, p, false); err != nil {
		return fmt.Errorf("failed to upsert pair %s: %w", p.Pair, err)
	}
	return nil
}

func (s *PairStore) Delete(ctx context.Context, pair string) error {
	if err := s.insert(ctx, models.TrackedPair{Pair: pair}, true); err != nil {
		return fmt.Errorf("failed to delete pair %s: %w", pair, err)
	}
	return nil
}

func (s *PairStore) GetAll(ctx context.Context) ([]models.TrackedPair, error) {
	return s.selectPairs(ctx, "")
}

func (s *PairStore) GetStale(ctx context.Context, cutoff time.Time) ([]models.TrackedPair, error) {
	return s.selectPairs(ctx, "AND last_bought_at <= ?", storage.Millis(cutoff))
}

// UpdateLastBought reads the live row and writes a new version with the
// moved timestamp.
func (s *PairStore) UpdateLastBought(ctx context.Context, pair string, at time.Time) error {
	rows, err := s.selectPairs(ctx, "AND pair = ?", pair)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, pair)
	}

	p := rows[0]
	p.LastBoughtAt = storage.Millis(at)
	if err := s.insert(ctx, p, false); err != nil {
		return fmt.Errorf("failed to update last_bought_at for %s: %w", pair, err)
	}
	return nil
}

func (s *PairStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *PairStore) Close() error {
	s.logger.Info("ClickHouse pair store closed")
	return s.conn.Close()
}

func (s *PairStore) selectPairs(ctx context.Context, where string, args ...any) ([]models.TrackedPair, error) {
	query := fmt.Sprintf(`
		SELECT pair, meme_token_address, base_token_address, meme_token_decimals,
			base_token_decimals, last_bought_at
		FROM %s FINAL
		WHERE is_deleted = 0 %s
	`, s.table, where)

	var rows []pairRow
	if err := s.conn.Select(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query pairs: %w", err)
	}

	out := make([]models.TrackedPair, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}
