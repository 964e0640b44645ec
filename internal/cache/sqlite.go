package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store on a local SQLite database. This is the
// default backend: a single file, safe across processes on one machine.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	nowFunc func() time.Time
}

// NewSQLiteStore opens (creating if needed) the cache database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	if err := initSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, path: path, nowFunc: time.Now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT failed, reason, payload FROM solver_results
		 WHERE spec_fp = ? AND sample_idx = ? AND env_fp = ?`,
		string(key.SpecFP), key.Index, string(key.EnvFP))

	var (
		failed  int
		reason  string
		payload []byte
	)
	if err := row.Scan(&failed, &reason, &payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return &Entry{Payload: payload, Failed: failed != 0, Reason: reason}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key Key, entry Entry) error {
	failed := 0
	if entry.Failed {
		failed = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO solver_results
		 (spec_fp, sample_idx, env_fp, failed, reason, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(key.SpecFP), key.Index, string(key.EnvFP),
		failed, entry.Reason, entry.Payload,
		s.nowFunc().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM solver_results`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return n, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error { return s.db.Close() }
