package watcher

import (
	"errors"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeClass selects which kinds of file change a subscription reports.
type ChangeClass uint8

const (
	ClassSize ChangeClass = 1 << iota
	ClassCreation
	ClassLastWrite
)

// DefaultClasses is what a settings session subscribes to.
const DefaultClasses = ClassSize | ClassCreation | ClassLastWrite

// Has reports whether c includes every bit of other.
func (c ChangeClass) Has(other ChangeClass) bool {
	return c&other == other
}

// Kind distinguishes the two raw notification types a session reacts to.
type Kind string

const (
	KindChanged Kind = "changed"
	KindCreated Kind = "created"
)

// RawEvent is a single undebounced notification for the watched file.
type RawEvent struct {
	Path string
	Kind Kind
	Op   fsnotify.Op
	Time time.Time
}

// Handle releases a subscription. Close must be safe to call more than once.
type Handle interface {
	Close() error
}

// Source delivers raw notifications for one file inside one directory.
// Subdirectories are never watched. onEvent and onError are called from a
// goroutine owned by the source.
type Source interface {
	Subscribe(filter Filter, onEvent func(RawEvent), onError func(error)) (Handle, error)
}

var (
	// ErrInvalidFilter is returned when a filter has no usable file name.
	ErrInvalidFilter = errors.New("filter needs a file name")
	// ErrWatchInvalidated is reported through onError when the watched
	// directory itself is removed or renamed.
	ErrWatchInvalidated = errors.New("watched directory is gone")
)
