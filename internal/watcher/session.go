// Package watcher watches a single settings file and reports one change
// per burst of filesystem events, after a hesitation period with no
// further events.
package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultHesitation is how long the file must stay quiet before a change
// is reported.
const DefaultHesitation = 1000 * time.Millisecond

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateWatching
	StateDisabled
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateDisabled:
		return "disabled"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options controls session behavior.
type Options struct {
	Source     Source
	Logger     *slog.Logger
	Hesitation time.Duration
	Debug      bool
}

// Stats are counters reported by a Session.
type Stats struct {
	RawEvents    uint64 `json:"raw_events"`
	Coalesced    uint64 `json:"coalesced"`
	Firings      uint64 `json:"firings"`
	SourceErrors uint64 `json:"source_errors"`
	Inits        uint64 `json:"inits"`
}

type listener struct {
	id uint64
	fn func()
}

// Session is a debounced watch on one file. The zero value is not usable;
// create one with New.
type Session struct {
	source     Source
	logger     *slog.Logger
	hesitation time.Duration
	debug      atomic.Bool

	// mu guards the subscription, the debouncer and the generation.
	mu        sync.Mutex
	path      string
	state     State
	handle    Handle
	debouncer *Debouncer
	gen       uint64

	// inflight counts firings past the generation check; Close waits on it.
	inflight sync.WaitGroup

	listenersMu sync.Mutex
	listeners   []listener
	nextID      uint64

	rawEvents    atomic.Uint64
	coalesced    atomic.Uint64
	firings      atomic.Uint64
	sourceErrors atomic.Uint64
	inits        atomic.Uint64
}

// New creates an idle Session. Nothing is watched until Init.
func New(opts Options) *Session {
	source := opts.Source
	if source == nil {
		source = NewFSNotifySource()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	hesitation := opts.Hesitation
	if hesitation <= 0 {
		hesitation = DefaultHesitation
	}

	s := &Session{
		source:     source,
		logger:     logger.With("component", "watcher"),
		hesitation: hesitation,
	}
	s.debug.Store(opts.Debug)
	return s
}

// Init starts watching path, replacing any previous subscription. Failures
// are logged and leave the session disabled; Init never returns an error.
func (s *Session) Init(path string) {
	s.trace("initializing settings file watcher", "path", path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		s.logger.Warn("settings file watcher is closed, ignoring init", "path", path)
		return
	}
	if err := s.releaseLocked(); err != nil {
		s.logger.Warn("error releasing previous settings file watcher", "path", s.path, "error", err)
	}
	s.inits.Add(1)

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	s.path = abs
	dir, name := filepath.Dir(abs), filepath.Base(abs)
	s.trace("settings file watcher directory", "dir", dir)
	s.trace("settings file watcher filename", "name", name)

	gen := s.gen
	debouncer := NewDebouncer(s.hesitation, func() { s.fire(gen) })
	handle, err := s.source.Subscribe(
		Filter{Dir: dir, Name: name, Classes: DefaultClasses},
		func(ev RawEvent) { s.handleRaw(gen, ev) },
		func(err error) { s.handleError(gen, err) },
	)
	if err != nil {
		debouncer.Stop()
		s.state = StateDisabled
		s.logger.Warn("error creating settings file watcher", "dir", dir, "error", err)
		return
	}

	s.handle = handle
	s.debouncer = debouncer
	s.state = StateWatching
}

// SetDebug enables or disables trace messages.
func (s *Session) SetDebug(enabled bool) {
	s.debug.Store(enabled)
}

// Debug reports whether trace messages are enabled.
func (s *Session) Debug() bool {
	return s.debug.Load()
}

// OnFileChanged registers fn to run once per coalesced change. Listeners
// run in registration order on the timer goroutine. The returned func
// removes the listener.
func (s *Session) OnFileChanged(fn func()) (remove func()) {
	if fn == nil {
		return func() {}
	}

	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.removeListener(id) })
	}
}

// Close releases the subscription and timer. The session cannot be
// re-initialized afterwards. Close waits for listeners that are already
// running, so it must not be called from a listener.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	err := s.releaseLocked()
	s.state = StateClosed
	s.mu.Unlock()

	s.inflight.Wait()
	return err
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Path returns the absolute path given to the last Init.
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Hesitation returns the quiet period before a change is reported.
func (s *Session) Hesitation() time.Duration {
	return s.hesitation
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		RawEvents:    s.rawEvents.Load(),
		Coalesced:    s.coalesced.Load(),
		Firings:      s.firings.Load(),
		SourceErrors: s.sourceErrors.Load(),
		Inits:        s.inits.Load(),
	}
}

// releaseLocked drops the current subscription and timer. Bumping gen
// makes late callbacks from the old subscription no-ops.
func (s *Session) releaseLocked() error {
	s.gen++

	if s.debouncer != nil {
		s.debouncer.Stop()
		s.debouncer = nil
	}
	var err error
	if s.handle != nil {
		err = s.handle.Close()
		s.handle = nil
	}
	return err
}

func (s *Session) handleRaw(gen uint64, ev RawEvent) {
	s.mu.Lock()
	if gen != s.gen || s.debouncer == nil {
		s.mu.Unlock()
		return
	}
	s.rawEvents.Add(1)
	if s.debouncer.Feed() {
		s.coalesced.Add(1)
	}
	s.mu.Unlock()

	s.trace("settings file has changed", "path", ev.Path, "kind", string(ev.Kind), "op", ev.Op.String())
}

func (s *Session) handleError(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	path := s.path
	if errors.Is(err, ErrWatchInvalidated) {
		s.state = StateDisabled
	}
	s.mu.Unlock()

	s.sourceErrors.Add(1)
	s.trace("error with settings file watcher", "path", path, "error", err)
	s.logger.Warn("error with settings file watcher", "path", path, "error", err)
}

// fire runs on the debouncer's timer goroutine. A timer that expired just
// as Init or Close released its subscription carries a stale gen and is
// dropped.
func (s *Session) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	path := s.path
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	s.firings.Add(1)
	s.trace("hesitation elapsed, reporting settings file change", "path", path)

	s.listenersMu.Lock()
	listeners := make([]listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.Unlock()

	for _, l := range listeners {
		s.invoke(l.fn)
	}
}

func (s *Session) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("settings file listener panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func (s *Session) removeListener(id uint64) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	for i, l := range s.listeners {
		if l.id == id {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *Session) trace(msg string, args ...any) {
	if !s.debug.Load() {
		return
	}
	s.logger.Debug(msg, args...)
}
