package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const schemaVersionKey = "schema_version"

// runMigrations brings db up to schemaVersion and returns how many
// migrations were applied. Each migration runs in its own transaction
// together with the version bump.
func runMigrations(db *sql.DB) (int, error) {
	// daemon_state holds the version, so it has to exist before anything
	// can be read.
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS daemon_state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("create daemon_state: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if current > schemaVersion {
		return 0, fmt.Errorf("database schema version %d is newer than supported version %d", current, schemaVersion)
	}

	applied := 0
	for v := current + 1; v <= schemaVersion; v++ {
		stmt, ok := migrations[v]
		if !ok {
			return applied, fmt.Errorf("missing migration for version %d", v)
		}
		if err := applyMigration(db, v, stmt); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func applyMigration(db *sql.DB, version int, stmt string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(stmt); err != nil {
		return fmt.Errorf("migration %d: %w", version, err)
	}
	if err := setState(tx, schemaVersionKey, strconv.Itoa(version)); err != nil {
		return fmt.Errorf("update schema version to %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", version, err)
	}
	return nil
}

// currentVersion reads the schema version from daemon_state.
// Returns 0 for a fresh database.
func currentVersion(db *sql.DB) (int, error) {
	var val string
	err := db.QueryRow(`SELECT value FROM daemon_state WHERE key = ?`, schemaVersionKey).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(val)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func setState(e execer, key, value string) error {
	_, err := e.Exec(
		`INSERT INTO daemon_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}
