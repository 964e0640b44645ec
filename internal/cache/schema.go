package cache

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current cache database schema version.
const SchemaVersion = 1

const schemaV1 = `
-- One row per solver invocation outcome. The primary key mirrors the
-- cache Key; rows are inserted once and never updated.
CREATE TABLE IF NOT EXISTS solver_results (
    spec_fp    TEXT NOT NULL,
    sample_idx INTEGER NOT NULL,
    env_fp     TEXT NOT NULL,
    failed     INTEGER NOT NULL DEFAULT 0,
    reason     TEXT NOT NULL DEFAULT '',
    payload    BLOB,
    created_at TEXT NOT NULL,
    PRIMARY KEY (spec_fp, sample_idx, env_fp)
);

CREATE INDEX IF NOT EXISTS idx_solver_results_spec ON solver_results(spec_fp);

CREATE TABLE IF NOT EXISTS cache_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// initSchema creates the cache tables and records the schema version.
func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("failed to create cache schema: %w", err)
	}
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_meta (key, value) VALUES ('schema_version', ?)`,
		fmt.Sprintf("%d", SchemaVersion))
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}
