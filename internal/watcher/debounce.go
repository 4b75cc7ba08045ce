package watcher

import (
	"sync"
	"time"
)

// Debouncer holds a single-shot hesitation timer. Every Feed restarts the
// timer at the full window; emit runs once when the window passes with no
// further Feed. It is safe for concurrent use.
type Debouncer struct {
	window time.Duration
	emit   func()

	mu      sync.Mutex
	timer   *time.Timer
	seq     uint64
	stopped bool
}

// NewDebouncer creates a Debouncer that waits for `window` of silence
// before calling emit.
func NewDebouncer(window time.Duration, emit func()) *Debouncer {
	return &Debouncer{
		window: window,
		emit:   emit,
	}
}

// Feed restarts the hesitation timer. It reports whether a pending cycle
// was superseded by this call.
func (d *Debouncer) Feed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}

	// A callback that already started but has not taken the lock yet
	// carries an old seq and will return without emitting.
	d.seq++
	seq := d.seq

	superseded := false
	if d.timer != nil {
		d.timer.Stop()
		superseded = true
	}
	d.timer = time.AfterFunc(d.window, func() {
		d.expire(seq)
	})
	return superseded
}

// Pending reports whether a timer is armed and has not fired yet.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop cancels any pending timer without emitting. After Stop returns,
// subsequent Feed calls are no-ops.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) expire(seq uint64) {
	d.mu.Lock()
	if d.stopped || seq != d.seq {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	if d.emit != nil {
		d.emit()
	}
}
