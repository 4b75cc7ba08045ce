package store

// schemaVersion is the current schema version. Increment when adding migrations.
const schemaVersion = 1

// migrations maps version numbers to SQL statements that bring the schema
// from (version-1) to (version). Version 1 is the initial schema.
var migrations = map[int]string{
	1: `
-- One row per reload attempt of the watched settings file.
CREATE TABLE IF NOT EXISTS reloads (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT    NOT NULL,
	settings_path TEXT    NOT NULL,
	trigger       TEXT    NOT NULL,
	outcome       TEXT    NOT NULL,
	digest        TEXT    NOT NULL DEFAULT '',
	size_bytes    INTEGER NOT NULL DEFAULT 0,
	revision      TEXT    NOT NULL DEFAULT '',
	branch        TEXT    NOT NULL DEFAULT '',
	dirty         INTEGER NOT NULL DEFAULT 0,
	error         TEXT    NOT NULL DEFAULT '',
	timestamp     TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reloads_path ON reloads(settings_path);
CREATE INDEX IF NOT EXISTS idx_reloads_timestamp ON reloads(timestamp);
CREATE INDEX IF NOT EXISTS idx_reloads_run ON reloads(run_id);

-- Key-value store for daemon metadata (schema version, last run, etc).
CREATE TABLE IF NOT EXISTS daemon_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);
`,
}
