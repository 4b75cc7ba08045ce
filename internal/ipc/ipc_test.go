package ipc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/highbeam/settingswatch/internal/settings"
	"github.com/highbeam/settingswatch/internal/store"
	"github.com/highbeam/settingswatch/internal/watcher"
)

type fakeDaemon struct {
	mu      sync.Mutex
	debug   bool
	stopped bool
	reloads int
}

func (f *fakeDaemon) Uptime() time.Duration       { return 90 * time.Second }
func (f *fakeDaemon) RunID() string               { return "run-1" }
func (f *fakeDaemon) SettingsPath() string        { return "/etc/app/settings.json" }
func (f *fakeDaemon) WatchState() string          { return "watching" }
func (f *fakeDaemon) Hesitation() time.Duration   { return time.Second }
func (f *fakeDaemon) ActiveDigest() string        { return "abc123" }
func (f *fakeDaemon) WatcherStats() watcher.Stats { return watcher.Stats{RawEvents: 5, Firings: 2} }

func (f *fakeDaemon) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeDaemon) Debug() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.debug
}

func (f *fakeDaemon) SetDebug(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.debug = enabled
}

func (f *fakeDaemon) Reload() settings.Record {
	f.mu.Lock()
	f.reloads++
	f.mu.Unlock()
	return settings.Record{
		Path:    "/etc/app/settings.json",
		Trigger: settings.TriggerManual,
		Outcome: settings.OutcomeUnchanged,
		Digest:  "abc123",
	}
}

type fakeStore struct{}

func (fakeStore) ReloadsCount() (int64, error) { return 7, nil }
func (fakeStore) DBSizeBytes() (int64, error)  { return 4096, nil }
func (fakeStore) LastReload() (*store.ReloadRecord, error) {
	return &store.ReloadRecord{ID: 7, Outcome: "applied", Trigger: "file_changed"}, nil
}

// startServer runs a server on a short socket path and returns a client.
func startServer(t *testing.T, d DaemonQuerier, st StoreQuerier) *Client {
	t.Helper()

	// Unix socket paths are length-limited, so avoid the long t.TempDir path.
	dir, err := os.MkdirTemp("", "swipc")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "s.sock")

	srv := NewServer(d, st, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(ctx, sock) }()

	t.Cleanup(func() {
		cancel()
		_ = srv.Stop()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Listen: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Listen did not return")
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return NewClient(sock)
}

func TestPing(t *testing.T) {
	c := startServer(t, &fakeDaemon{}, fakeStore{})
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestStatus(t *testing.T) {
	c := startServer(t, &fakeDaemon{}, fakeStore{})

	st, err := c.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Uptime != "1m30s" {
		t.Errorf("Uptime = %q", st.Uptime)
	}
	if st.RunID != "run-1" || st.WatchState != "watching" || st.HesitationMS != 1000 {
		t.Errorf("status = %+v", st)
	}
	if st.Watcher.RawEvents != 5 || st.Watcher.Firings != 2 {
		t.Errorf("Watcher = %+v", st.Watcher)
	}
	if st.ReloadsCount != 7 || st.DBSizeBytes != 4096 {
		t.Errorf("store fields = %d, %d", st.ReloadsCount, st.DBSizeBytes)
	}
	if st.LastReload == nil || st.LastReload.Outcome != "applied" {
		t.Errorf("LastReload = %+v", st.LastReload)
	}
}

func TestStatusWithoutStore(t *testing.T) {
	c := startServer(t, &fakeDaemon{}, nil)

	st, err := c.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.LastReload != nil || st.ReloadsCount != 0 {
		t.Errorf("expected empty store fields, got %+v", st)
	}
}

func TestReload(t *testing.T) {
	d := &fakeDaemon{}
	c := startServer(t, d, fakeStore{})

	rec, err := c.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if rec.Trigger != settings.TriggerManual || rec.Outcome != settings.OutcomeUnchanged {
		t.Errorf("record = %+v", rec)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reloads != 1 {
		t.Errorf("daemon reloaded %d times, want 1", d.reloads)
	}
}

func TestDebugToggle(t *testing.T) {
	d := &fakeDaemon{}
	c := startServer(t, d, fakeStore{})

	on, err := c.SetDebug(true)
	if err != nil {
		t.Fatal(err)
	}
	if !on || !d.Debug() {
		t.Error("debug not enabled")
	}
	off, err := c.SetDebug(false)
	if err != nil {
		t.Fatal(err)
	}
	if off || d.Debug() {
		t.Error("debug not disabled")
	}
}

func TestStop(t *testing.T) {
	d := &fakeDaemon{}
	c := startServer(t, d, fakeStore{})

	if err := c.RequestStop(); err != nil {
		t.Fatal(err)
	}
	// The response is written before Stop runs.
	deadline := time.Now().Add(2 * time.Second)
	for {
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if stopped {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("daemon Stop not called")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUnknownCommand(t *testing.T) {
	c := startServer(t, &fakeDaemon{}, fakeStore{})

	_, err := c.send(Request{Command: "explode"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("err = %v, want unknown command", err)
	}
}

func TestInvalidDebugArg(t *testing.T) {
	c := startServer(t, &fakeDaemon{}, fakeStore{})

	_, err := c.send(Request{Command: CmdDebug, Args: map[string]string{"enabled": "maybe"}})
	if err == nil {
		t.Error("expected an error for a non-boolean argument")
	}
}

func TestClientNoDaemon(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	if err := c.Ping(); err == nil {
		t.Error("Ping succeeded without a daemon")
	}
}
