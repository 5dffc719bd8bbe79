package sqlite

import (
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS scans (
	id                     TEXT PRIMARY KEY,
	url                    TEXT NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'queued',
	created_at             INTEGER NOT NULL,
	completed_at           INTEGER,
	grade                  TEXT,
	total_scripts          INTEGER,
	total_bytes            INTEGER,
	total_main_thread_time REAL,
	error_message          TEXT,
	result_json            TEXT
);
CREATE INDEX IF NOT EXISTS idx_scans_created_at ON scans(created_at);
CREATE INDEX IF NOT EXISTS idx_scans_url ON scans(url);
CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status);

CREATE TABLE IF NOT EXISTS known_scripts (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	vendor           TEXT NOT NULL,
	category         TEXT NOT NULL,
	url_patterns     TEXT NOT NULL,
	global_variables TEXT,
	known_issues     TEXT,
	alternatives     TEXT,
	docs_url         TEXT,
	is_active        INTEGER NOT NULL DEFAULT 1,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_known_scripts_category ON known_scripts(category);
CREATE INDEX IF NOT EXISTS idx_known_scripts_vendor ON known_scripts(vendor);

CREATE TABLE IF NOT EXISTS kv_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kv_entries_expires_at ON kv_entries(expires_at);
`

// Migrate creates missing tables and indexes.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
