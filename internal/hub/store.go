// Package hub stores and serves packaged emulators. The local store
// keeps artifact files content-addressed on disk with a SQLite index
// from emulator name to digest; the HTTP server and client move the
// same bytes between machines. Artifact files are immutable; a name is
// a mutable pointer to a digest.
package hub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/emuforge/emuforge/internal/artifact"
	"github.com/emuforge/emuforge/internal/fingerprint"
)

// Entry is one indexed emulator.
type Entry struct {
	Name        string             `json:"name"`
	Digest      fingerprint.Digest `json:"digest"`
	SpecFP      fingerprint.Digest `json:"spec_fingerprint"`
	MaxRelError float64            `json:"max_rel_error"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Store is the local emulator library rooted at a directory:
// index.db plus artifacts/<digest>.emu.tar.gz files.
type Store struct {
	db      *sql.DB
	dir     string
	nowFunc func() time.Time
}

// NewStore opens (creating if needed) the library at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "artifacts"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create hub directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "index.db")+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open hub index: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	if err := initSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, dir: dir, nowFunc: time.Now}, nil
}

// Put stores the artifact under name. The file write is idempotent;
// the index row is replaced, so pushing a new build under an existing
// name repoints it.
func (s *Store) Put(ctx context.Context, name string, a *artifact.Artifact) error {
	if name == "" {
		return fmt.Errorf("emulator name must not be empty")
	}
	if _, err := a.WriteFile(s.artifactsDir()); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO emulators (name, digest, spec_fp, max_rel_error, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		name, string(a.Digest), string(a.Report.SpecFP), a.Report.MaxRelError,
		s.nowFunc().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to index emulator %q: %w", name, err)
	}
	return nil
}

// Resolve looks a name up in the index. Returns (nil, nil) when the
// name is unknown.
func (s *Store) Resolve(ctx context.Context, name string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, digest, spec_fp, max_rel_error, created_at FROM emulators WHERE name = ?`, name)
	return scanEntry(row)
}

// GetByName resolves a name and opens its artifact. Returns (nil, nil)
// when the name is unknown.
func (s *Store) GetByName(ctx context.Context, name string) (*artifact.Artifact, error) {
	entry, err := s.Resolve(ctx, name)
	if err != nil || entry == nil {
		return nil, err
	}
	return s.GetByDigest(ctx, entry.Digest)
}

// GetByDigest opens an artifact file by digest and verifies its
// content still matches. Returns (nil, nil) when no such file exists.
// The digest names a file, so anything that is not a well-formed
// digest is treated as unknown rather than given to the filesystem.
func (s *Store) GetByDigest(_ context.Context, digest fingerprint.Digest) (*artifact.Artifact, error) {
	if !digest.Valid() {
		return nil, nil
	}
	path := filepath.Join(s.artifactsDir(), string(digest)+artifact.Ext)
	a, err := artifact.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if err := a.Verify(digest); err != nil {
		return nil, fmt.Errorf("stored artifact corrupt: %w", err)
	}
	return a, nil
}

// List returns every indexed emulator, sorted by name.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, digest, spec_fp, max_rel_error, created_at FROM emulators ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list emulators: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// Delete removes a name from the index. The artifact file stays: other
// names may point at the same digest.
func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM emulators WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete emulator %q: %w", name, err)
	}
	return nil
}

// Dir returns the library root.
func (s *Store) Dir() string { return s.dir }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) artifactsDir() string {
	return filepath.Join(s.dir, "artifacts")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry   Entry
		digest  string
		specFP  string
		created string
	)
	if err := row.Scan(&entry.Name, &digest, &specFP, &entry.MaxRelError, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read emulator entry: %w", err)
	}
	entry.Digest = fingerprint.Digest(digest)
	entry.SpecFP = fingerprint.Digest(specFP)
	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("failed to parse entry timestamp: %w", err)
	}
	entry.CreatedAt = ts
	return &entry, nil
}
