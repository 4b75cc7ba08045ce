package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSNotifySource is the fsnotify-backed Source. Each subscription owns its
// own fsnotify.Watcher on the file's parent directory.
type FSNotifySource struct{}

// NewFSNotifySource returns a Source backed by fsnotify.
func NewFSNotifySource() *FSNotifySource {
	return &FSNotifySource{}
}

// Subscribe starts watching filter.Dir for events on filter.Name.
func (FSNotifySource) Subscribe(filter Filter, onEvent func(RawEvent), onError func(error)) (Handle, error) {
	if !filter.Valid() {
		return nil, ErrInvalidFilter
	}
	dir := filepath.Clean(filter.Dir)

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Join(dir, filter.Name)
	sub := &subscription{
		fsw:     fsw,
		filter:  filter,
		dir:     dir,
		target:  target,
		onEvent: onEvent,
		onError: onError,
		last:    statFile(target),
		done:    make(chan struct{}),
	}
	go sub.run()
	return sub, nil
}

type subscription struct {
	fsw     *fsnotify.Watcher
	filter  Filter
	dir     string
	target  string
	onEvent func(RawEvent)
	onError func(error)

	// last is only touched by the run goroutine.
	last fileStat

	done chan struct{}
	once sync.Once
}

// Close stops the event loop and releases the fsnotify watcher. It does not
// wait for an in-flight callback to return.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.fsw.Close()
	})
	return err
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return

		case ev, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			s.handleEvent(ev)

		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			if s.closed() {
				return
			}
			if s.onError != nil {
				s.onError(err)
			}
		}
	}
}

// handleEvent processes a single fsnotify event.
func (s *subscription) handleEvent(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) == s.dir && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) {
		if s.onError != nil && !s.closed() {
			s.onError(fmt.Errorf("%w: %s", ErrWatchInvalidated, s.dir))
		}
		return
	}
	if !s.filter.Matches(ev.Name) {
		return
	}

	cur := statFile(s.target)
	kind, ok := s.filter.classify(ev.Op, s.last, cur)
	s.last = cur
	if !ok || s.closed() {
		return
	}
	if s.onEvent != nil {
		s.onEvent(RawEvent{
			Path: s.target,
			Kind: kind,
			Op:   ev.Op,
			Time: time.Now(),
		})
	}
}

func (s *subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
