package watcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Filter scopes a subscription to a single file name inside Dir.
type Filter struct {
	Dir     string
	Name    string
	Classes ChangeClass
}

// Valid reports whether the filter names a concrete file.
func (f Filter) Valid() bool {
	switch f.Name {
	case "", ".", "..", string(filepath.Separator):
		return false
	}
	return f.Dir != ""
}

// Matches returns true if path refers to the filtered file. Only the base
// name is compared because the source never recurses.
func (f Filter) Matches(path string) bool {
	return filepath.Base(filepath.Clean(path)) == f.Name
}

// fileStat is the part of a file's metadata the filter cares about.
type fileStat struct {
	exists bool
	size   int64
	mod    time.Time
}

func statFile(path string) fileStat {
	info, err := os.Stat(path)
	if err != nil {
		return fileStat{}
	}
	return fileStat{exists: true, size: info.Size(), mod: info.ModTime()}
}

// classify maps an fsnotify operation to a raw notification kind, given the
// file's metadata before and after the operation. ok is false when the
// operation falls outside the filter's change classes.
//
// Chmod is reported for attribute updates, which includes touch(1) moving
// the modification time, so it counts only when size or mtime moved.
func (f Filter) classify(op fsnotify.Op, prev, cur fileStat) (kind Kind, ok bool) {
	sizeMoved := prev.size != cur.size || prev.exists != cur.exists
	modMoved := !prev.mod.Equal(cur.mod)

	switch {
	case op.Has(fsnotify.Create):
		if f.Classes.Has(ClassCreation) {
			return KindCreated, true
		}
		return "", false
	case op.Has(fsnotify.Write):
		if f.Classes.Has(ClassLastWrite) || (f.Classes.Has(ClassSize) && sizeMoved) {
			return KindChanged, true
		}
		return "", false
	case op.Has(fsnotify.Chmod):
		if (f.Classes.Has(ClassSize) && sizeMoved) || (f.Classes.Has(ClassLastWrite) && modMoved) {
			return KindChanged, true
		}
		return "", false
	default:
		// Remove and Rename away from the name are not changes to report.
		return "", false
	}
}
