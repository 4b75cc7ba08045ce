package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ReloadRecord is one row of the reloads table.
type ReloadRecord struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	SettingsPath string    `json:"settings_path"`
	Trigger      string    `json:"trigger"`
	Outcome      string    `json:"outcome"`
	Digest       string    `json:"digest,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
	Revision     string    `json:"revision,omitempty"`
	Branch       string    `json:"branch,omitempty"`
	Dirty        bool      `json:"dirty,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

const reloadColumns = `id, run_id, settings_path, trigger, outcome, digest, size_bytes,
	revision, branch, dirty, error, timestamp`

const (
	recentReloadsQuery = `SELECT ` + reloadColumns + ` FROM reloads ORDER BY id DESC LIMIT ?`
	lastAppliedQuery   = `SELECT ` + reloadColumns + ` FROM reloads WHERE outcome = 'applied' ORDER BY id DESC LIMIT 1`
)

// InsertReload records a reload attempt and returns its row id.
func (s *Store) InsertReload(r ReloadRecord) (int64, error) {
	dirty := 0
	if r.Dirty {
		dirty = 1
	}
	res, err := s.db.Exec(
		`INSERT INTO reloads (run_id, settings_path, trigger, outcome, digest, size_bytes,
		                      revision, branch, dirty, error, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.SettingsPath, r.Trigger, r.Outcome, r.Digest, r.SizeBytes,
		r.Revision, r.Branch, dirty, r.Error, r.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert reload: %w", err)
	}
	return res.LastInsertId()
}

// RecentReloads returns up to limit reloads, newest first.
func (s *Store) RecentReloads(limit int) ([]ReloadRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(recentReloadsQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReloads(rows)
}

// LastReload returns the newest reload, or nil if there is none.
func (s *Store) LastReload() (*ReloadRecord, error) {
	records, err := s.RecentReloads(1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// LastApplied returns the newest reload with outcome "applied", or nil.
func (s *Store) LastApplied() (*ReloadRecord, error) {
	row := s.db.QueryRow(lastAppliedQuery)
	r, err := scanReload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ReloadsCount returns the number of recorded reloads.
func (s *Store) ReloadsCount() (int64, error) {
	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM reloads").Scan(&count)
	return count, err
}

// CountByOutcome returns reload counts grouped by outcome.
func (s *Store) CountByOutcome() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT outcome, COUNT(*) FROM reloads GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReload(sc scanner) (ReloadRecord, error) {
	var r ReloadRecord
	var ts string
	var dirty int
	if err := sc.Scan(
		&r.ID, &r.RunID, &r.SettingsPath, &r.Trigger, &r.Outcome, &r.Digest, &r.SizeBytes,
		&r.Revision, &r.Branch, &dirty, &r.Error, &ts,
	); err != nil {
		return ReloadRecord{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ReloadRecord{}, fmt.Errorf("parse reload timestamp %q: %w", ts, err)
	}
	r.Timestamp = t
	r.Dirty = dirty != 0
	return r, nil
}

func scanReloads(rows *sql.Rows) ([]ReloadRecord, error) {
	var records []ReloadRecord
	for rows.Next() {
		r, err := scanReload(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
