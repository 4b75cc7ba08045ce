package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/highbeam/settingswatch/internal/gitint"
)

// Trigger says why a reload was attempted.
type Trigger string

const (
	TriggerStartup     Trigger = "startup"
	TriggerFileChanged Trigger = "file_changed"
	TriggerManual      Trigger = "manual"
)

// Outcome is the result of a reload attempt.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeMissing   Outcome = "missing"
	OutcomeError     Outcome = "error"
)

// Record describes one reload attempt.
type Record struct {
	Path     string          `json:"path"`
	Trigger  Trigger         `json:"trigger"`
	Outcome  Outcome         `json:"outcome"`
	Digest   string          `json:"digest,omitempty"`
	Size     int64           `json:"size_bytes"`
	Revision gitint.Revision `json:"revision"`
	Err      string          `json:"error,omitempty"`
	Time     time.Time       `json:"time"`
}

// Recorder persists reload records.
type Recorder interface {
	RecordReload(rec Record) error
}

// RevisionFunc looks up the version-control revision of a file.
type RevisionFunc func(path string) (gitint.Revision, error)

// ReloaderOptions configures a Reloader.
type ReloaderOptions struct {
	Path      string
	Logger    *slog.Logger
	Recorder  Recorder
	Revisions RevisionFunc
}

// Reloader keeps the most recently applied Snapshot of one settings file.
type Reloader struct {
	path      string
	logger    *slog.Logger
	recorder  Recorder
	revisions RevisionFunc

	// reloadMu serializes Reload; mu guards current and last so readers
	// never wait on a reload in progress.
	reloadMu sync.Mutex
	mu       sync.Mutex
	current  *Snapshot
	last     *Record

	subsMu sync.Mutex
	subs   []func(*Snapshot)
}

// NewReloader creates a Reloader for opts.Path. Nothing is loaded until
// the first Reload.
func NewReloader(opts ReloaderOptions) *Reloader {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reloader{
		path:      opts.Path,
		logger:    logger.With("component", "settings"),
		recorder:  opts.Recorder,
		revisions: opts.Revisions,
	}
}

// OnApply registers fn to receive every newly applied snapshot.
func (r *Reloader) OnApply(fn func(*Snapshot)) {
	if fn == nil {
		return
	}
	r.subsMu.Lock()
	r.subs = append(r.subs, fn)
	r.subsMu.Unlock()
}

// Current returns the active snapshot, or nil if nothing was applied yet.
func (r *Reloader) Current() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Last returns the most recent reload record, or nil.
func (r *Reloader) Last() *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil
	}
	rec := *r.last
	return &rec
}

// Path returns the settings file path.
func (r *Reloader) Path() string {
	return r.path
}

// Reload loads the settings file and applies it if its content changed.
// Missing or invalid files keep the previous snapshot active. Subscribers
// run after the new snapshot is visible through Current; they must not
// call Reload themselves.
func (r *Reloader) Reload(trigger Trigger) Record {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	rec := Record{
		Path:    r.path,
		Trigger: trigger,
		Time:    time.Now().UTC(),
	}

	prev := r.Current()
	snap, err := Load(r.path)
	switch {
	case errors.Is(err, ErrMissing):
		rec.Outcome = OutcomeMissing
		rec.Err = err.Error()
		r.logger.Warn("settings file missing, keeping previous settings", "path", r.path)
	case errors.Is(err, ErrInvalid):
		rec.Outcome = OutcomeInvalid
		rec.Err = err.Error()
		r.logger.Warn("settings file invalid, keeping previous settings", "path", r.path, "error", err)
	case err != nil:
		rec.Outcome = OutcomeError
		rec.Err = err.Error()
		r.logger.Warn("settings reload failed", "path", r.path, "error", err)
	case prev != nil && prev.Digest == snap.Digest:
		rec.Outcome = OutcomeUnchanged
		rec.Digest = snap.Digest
		rec.Size = snap.Size
	default:
		rec.Outcome = OutcomeApplied
		rec.Digest = snap.Digest
		rec.Size = snap.Size
	}

	if rec.Digest != "" {
		rec.Revision = r.revision()
	}

	r.logger.Info("settings reload",
		"trigger", string(rec.Trigger),
		"outcome", string(rec.Outcome),
		"digest", snap.ShortDigest(),
	)

	if r.recorder != nil {
		if err := r.recorder.RecordReload(rec); err != nil {
			r.logger.Warn("record reload", "error", err)
		}
	}

	last := rec
	r.mu.Lock()
	if rec.Outcome == OutcomeApplied {
		r.current = snap
	}
	r.last = &last
	r.mu.Unlock()

	if rec.Outcome == OutcomeApplied {
		r.notify(snap)
	}
	return rec
}

func (r *Reloader) revision() gitint.Revision {
	if r.revisions == nil {
		return gitint.Revision{}
	}
	rev, err := r.revisions(r.path)
	if err != nil {
		if !errors.Is(err, gitint.ErrNotRepository) {
			r.logger.Warn("settings revision lookup failed", "path", r.path, "error", err)
		}
		return gitint.Revision{}
	}
	return rev
}

func (r *Reloader) notify(snap *Snapshot) {
	r.subsMu.Lock()
	subs := make([]func(*Snapshot), len(r.subs))
	copy(subs, r.subs)
	r.subsMu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Warn("settings subscriber panicked", "panic", fmt.Sprint(p))
				}
			}()
			fn(snap)
		}()
	}
}
