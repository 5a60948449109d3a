package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hetulpatel/darwin/internal/ports"
)

const (
	defaultPath = "data/darwin.db"
)

// Store wraps a SQLite DB connection.
type Store struct {
	path string
	db   *sql.DB
	now  func() time.Time
}

var _ ports.Store = (*Store)(nil)

// Open creates (if needed) and opens the SQLite database and ensures the
// schema exists. Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	if err := ensureWAL(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &Store{path: path, db: db, now: time.Now}
	if err := s.CreateTables(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func ensureWAL(db *sql.DB) error {
	const (
		maxAttempts = 5
		delay       = 200 * time.Millisecond
	)
	for i := 0; i < maxAttempts; i++ {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			if strings.Contains(err.Error(), "database is locked") {
				time.Sleep(delay)
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("database is locked after retries")
}

// Path returns the path backing the store.
func (s *Store) Path() string {
	return s.path
}

// Close closes the DB.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateTables ensures every table exists.
func (s *Store) CreateTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

// DropTables removes every table.
func (s *Store) DropTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS signals; DROP TABLE IF EXISTS markets; DROP TABLE IF EXISTS seen_articles;`)
	return err
}

// Migrate drops the legacy arbitrage tables, if present, and creates the current schema.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`DROP TABLE IF EXISTS polymarket_markets;`,
		`DROP TABLE IF EXISTS kalshi_markets;`,
		`DROP TABLE IF EXISTS arb_opportunities;`,
		schemaSQL,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS signals (
	id TEXT PRIMARY KEY,
	market_id TEXT NOT NULL,
	question TEXT NOT NULL,
	darwin_estimate REAL NOT NULL,
	lower_bound REAL NOT NULL,
	market_price REAL NOT NULL,
	ev_net REAL NOT NULL,
	ev_net_lower_bound REAL NOT NULL,
	direction TEXT NOT NULL,
	reasoning TEXT,
	headlines_json TEXT,
	confidence TEXT,
	fee REAL,
	slippage REAL,
	latency REAL,
	resolution_risk REAL,
	total_cost REAL,
	tradeable INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0,
	commit_tx_id TEXT,
	commit_hash TEXT,
	commit_block INTEGER,
	price_at_commit REAL,
	committed_at INTEGER,
	reveal_tx_id TEXT,
	revealed_at INTEGER
);
CREATE INDEX IF NOT EXISTS signals_market_idx ON signals(market_id, created_at);
CREATE INDEX IF NOT EXISTS signals_created_idx ON signals(created_at);

CREATE TABLE IF NOT EXISTS markets (
	market_id TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	probability REAL,
	volume REAL,
	liquidity REAL,
	end_date INTEGER,
	token_id TEXT,
	category TEXT,
	updated_at INTEGER,
	last_seen_at INTEGER
);

CREATE TABLE IF NOT EXISTS seen_articles (
	title_key TEXT PRIMARY KEY,
	source TEXT,
	seen_at INTEGER NOT NULL
);
`

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms sql.NullInt64) time.Time {
	if !ms.Valid || ms.Int64 == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms.Int64).UTC()
}
