package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ---------------------------------------------------------------------------
// Filter tests
// ---------------------------------------------------------------------------

func TestFilterValid(t *testing.T) {
	cases := []struct {
		filter Filter
		want   bool
	}{
		{Filter{Dir: "/etc/app", Name: "settings.json"}, true},
		{Filter{Dir: "/etc/app", Name: ""}, false},
		{Filter{Dir: "/etc/app", Name: "."}, false},
		{Filter{Dir: "/", Name: string(filepath.Separator)}, false},
		{Filter{Dir: "", Name: "settings.json"}, false},
	}

	for _, tc := range cases {
		if got := tc.filter.Valid(); got != tc.want {
			t.Errorf("Valid(%+v) = %v, want %v", tc.filter, got, tc.want)
		}
	}
}

func TestFilterMatches(t *testing.T) {
	f := Filter{Dir: "/etc/app", Name: "settings.json"}

	cases := []struct {
		path string
		want bool
	}{
		{"/etc/app/settings.json", true},
		{"/etc/app/./settings.json", true},
		{"/etc/app/settings.json.tmp", false},
		{"/etc/app/other.json", false},
		{"/etc/app", false},
	}

	for _, tc := range cases {
		if got := f.Matches(tc.path); got != tc.want {
			t.Errorf("Matches(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestFilterClassify(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	t1 := t0.Add(time.Second)
	before := fileStat{exists: true, size: 10, mod: t0}

	cases := []struct {
		name     string
		classes  ChangeClass
		op       fsnotify.Op
		cur      fileStat
		wantKind Kind
		wantOK   bool
	}{
		{"create", DefaultClasses, fsnotify.Create, before, KindCreated, true},
		{"create without class", ClassSize | ClassLastWrite, fsnotify.Create, before, "", false},
		{"write", DefaultClasses, fsnotify.Write, fileStat{exists: true, size: 12, mod: t1}, KindChanged, true},
		{"write same size, size only", ClassSize, fsnotify.Write, before, "", false},
		{"write new size, size only", ClassSize, fsnotify.Write, fileStat{exists: true, size: 11, mod: t0}, KindChanged, true},
		{"touch moves mtime", DefaultClasses, fsnotify.Chmod, fileStat{exists: true, size: 10, mod: t1}, KindChanged, true},
		{"pure chmod", DefaultClasses, fsnotify.Chmod, before, "", false},
		{"remove", DefaultClasses, fsnotify.Remove, fileStat{}, "", false},
		{"rename away", DefaultClasses, fsnotify.Rename, fileStat{}, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := Filter{Dir: "/d", Name: "f", Classes: tc.classes}
			kind, ok := f.classify(tc.op, before, tc.cur)
			if ok != tc.wantOK || kind != tc.wantKind {
				t.Errorf("classify(%v) = (%q, %v), want (%q, %v)", tc.op, kind, ok, tc.wantKind, tc.wantOK)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Debouncer tests
// ---------------------------------------------------------------------------

type counter struct {
	mu    sync.Mutex
	n     int
	times []time.Time
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.times = append(c.times, time.Now())
	c.mu.Unlock()
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *counter) at(i int) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.times[i]
}

func TestDebouncerSingleFeed(t *testing.T) {
	var c counter
	d := NewDebouncer(50*time.Millisecond, c.inc)
	defer d.Stop()

	if d.Feed() {
		t.Error("first Feed reported a superseded cycle")
	}
	if !d.Pending() {
		t.Error("expected a pending timer after Feed")
	}

	time.Sleep(150 * time.Millisecond)

	if got := c.count(); got != 1 {
		t.Fatalf("expected 1 emission, got %d", got)
	}
	if d.Pending() {
		t.Error("timer still pending after emission")
	}
}

func TestDebouncerBurstCollapse(t *testing.T) {
	var c counter
	d := NewDebouncer(50*time.Millisecond, c.inc)
	defer d.Stop()

	superseded := 0
	for i := 0; i < 10; i++ {
		if d.Feed() {
			superseded++
		}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)

	if got := c.count(); got != 1 {
		t.Fatalf("expected exactly 1 emission after burst of 10, got %d", got)
	}
	if superseded != 9 {
		t.Errorf("expected 9 superseded cycles, got %d", superseded)
	}
}

func TestDebouncerConcurrentFeed(t *testing.T) {
	var c counter
	d := NewDebouncer(50*time.Millisecond, c.inc)
	defer d.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				d.Feed()
			}
		}()
	}
	wg.Wait()

	time.Sleep(150 * time.Millisecond)

	if got := c.count(); got != 1 {
		t.Fatalf("expected 1 emission after concurrent feeds, got %d", got)
	}
}

func TestDebouncerStopDiscards(t *testing.T) {
	var c counter
	d := NewDebouncer(30*time.Millisecond, c.inc)

	d.Feed()
	d.Stop()

	time.Sleep(100 * time.Millisecond)

	if got := c.count(); got != 0 {
		t.Fatalf("expected 0 emissions after Stop, got %d", got)
	}
}

func TestDebouncerFeedAfterStop(t *testing.T) {
	var c counter
	d := NewDebouncer(30*time.Millisecond, c.inc)

	d.Stop()

	// Feed after stop should be a no-op, not panic.
	d.Feed()
	time.Sleep(100 * time.Millisecond)

	if got := c.count(); got != 0 {
		t.Errorf("expected 0 emissions after stop, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// fsnotify integration
// ---------------------------------------------------------------------------

func waitFor(t *testing.T, ch <-chan struct{}, timeout time.Duration) bool {
	t.Helper()
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

func TestFSNotifySessionReportsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	s := New(Options{Source: NewFSNotifySource(), Hesitation: 100 * time.Millisecond})
	defer s.Close()

	fired := make(chan struct{}, 8)
	s.OnFileChanged(func() { fired <- struct{}{} })

	// Watching starts before the file exists; creation is a valid trigger.
	s.Init(path)
	if got := s.State(); got != StateWatching {
		t.Fatalf("State = %v, want watching", got)
	}

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(`{"n":`+string(rune('0'+i))+`}`), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !waitFor(t, fired, 2*time.Second) {
		t.Fatal("no change reported after writing the settings file")
	}
	if waitFor(t, fired, 300*time.Millisecond) {
		t.Error("burst of writes produced more than one change")
	}

	// A separate save after the quiet period is its own change.
	if err := os.WriteFile(path, []byte(`{"n":9}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, fired, 2*time.Second) {
		t.Fatal("second save was not reported")
	}
}

func TestFSNotifySessionIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(Options{Hesitation: 50 * time.Millisecond})
	defer s.Close()

	fired := make(chan struct{}, 8)
	s.OnFileChanged(func() { fired <- struct{}{} })
	s.Init(path)

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "nested", "settings.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if waitFor(t, fired, 300*time.Millisecond) {
		t.Error("change reported for a file other than the watched one")
	}
}

func TestFSNotifySourceRejectsMissingDirectory(t *testing.T) {
	src := NewFSNotifySource()
	missing := filepath.Join(t.TempDir(), "does", "not", "exist")

	h, err := src.Subscribe(Filter{Dir: missing, Name: "settings.json", Classes: DefaultClasses}, nil, nil)
	if err == nil {
		h.Close()
		t.Fatal("expected an error subscribing to a missing directory")
	}
}

func TestFSNotifySourceRejectsInvalidFilter(t *testing.T) {
	src := NewFSNotifySource()
	_, err := src.Subscribe(Filter{Dir: t.TempDir(), Name: ""}, nil, nil)
	if err != ErrInvalidFilter {
		t.Fatalf("err = %v, want ErrInvalidFilter", err)
	}
}

func TestFSNotifyHandleCloseTwice(t *testing.T) {
	src := NewFSNotifySource()
	h, err := src.Subscribe(Filter{Dir: t.TempDir(), Name: "settings.json", Classes: DefaultClasses}, func(RawEvent) {}, func(error) {})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
