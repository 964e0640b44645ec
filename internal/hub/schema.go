package hub

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current index schema. Bump on incompatible
// changes and add a migration below.
const SchemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS emulators (
	name          TEXT PRIMARY KEY,
	digest        TEXT NOT NULL,
	spec_fp       TEXT NOT NULL,
	max_rel_error REAL NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_emulators_digest ON emulators(digest);

CREATE TABLE IF NOT EXISTS hub_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("failed to create hub schema: %w", err)
	}
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO hub_meta (key, value) VALUES ('schema_version', ?)`,
		fmt.Sprint(SchemaVersion))
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}
