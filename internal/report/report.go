// Package report renders daemon status and the reload history for the
// terminal. History is read from the SQLite database directly, so the
// daemon does not need to be running.
package report

import (
	"fmt"

	"github.com/highbeam/settingswatch/internal/store"
)

// History is the recent reload history of the settings file.
type History struct {
	Total       int64                `json:"total"`
	ByOutcome   map[string]int64     `json:"by_outcome"`
	LastApplied *store.ReloadRecord  `json:"last_applied,omitempty"`
	Reloads     []store.ReloadRecord `json:"reloads"`
}

// GenerateHistory opens the store at dbPath and reads up to limit reloads.
func GenerateHistory(dbPath string, limit int) (*History, error) {
	s, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	return GenerateHistoryFromStore(s, limit)
}

// GenerateHistoryFromStore reads up to limit reloads from an open store.
func GenerateHistoryFromStore(s *store.Store, limit int) (*History, error) {
	total, err := s.ReloadsCount()
	if err != nil {
		return nil, fmt.Errorf("count reloads: %w", err)
	}
	byOutcome, err := s.CountByOutcome()
	if err != nil {
		return nil, fmt.Errorf("count by outcome: %w", err)
	}
	lastApplied, err := s.LastApplied()
	if err != nil {
		return nil, fmt.Errorf("last applied reload: %w", err)
	}
	reloads, err := s.RecentReloads(limit)
	if err != nil {
		return nil, fmt.Errorf("recent reloads: %w", err)
	}

	return &History{
		Total:       total,
		ByOutcome:   byOutcome,
		LastApplied: lastApplied,
		Reloads:     reloads,
	}, nil
}
