package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/highbeam/settingswatch/internal/config"
	"github.com/highbeam/settingswatch/internal/gitint"
	"github.com/highbeam/settingswatch/internal/ipc"
	"github.com/highbeam/settingswatch/internal/settings"
	"github.com/highbeam/settingswatch/internal/store"
	"github.com/highbeam/settingswatch/internal/watcher"
)

// IPCServer is the interface the daemon uses to start/stop the IPC listener.
type IPCServer interface {
	Listen(ctx context.Context, socketPath string) error
	Stop() error
}

// StoreAware can receive a store reference after it becomes available.
type StoreAware interface {
	SetStore(st ipc.StoreQuerier)
}

// Options carries optional daemon dependencies.
type Options struct {
	Logger *slog.Logger

	// Level, if set, is raised to debug together with the watcher traces.
	Level *slog.LevelVar

	// Source overrides the filesystem event source.
	Source watcher.Source
}

// Daemon manages the lifecycle of the settingswatch background process.
type Daemon struct {
	cfg    *config.Config
	ipc    IPCServer
	logger *slog.Logger
	level  *slog.LevelVar
	source watcher.Source

	store     *store.Store
	session   *watcher.Session
	reloader  *settings.Reloader
	runID     string
	startTime time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool
}

// New creates a new Daemon with the given config.
// The IPC server is injected to avoid circular imports.
func New(cfg *config.Config, ipcServer IPCServer, opts Options) *Daemon {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Daemon{
		cfg:    cfg,
		ipc:    ipcServer,
		logger: logger,
		level:  opts.Level,
		source: opts.Source,
	}
}

// Start opens the store, loads the settings file, starts watching it and
// serving IPC, and blocks until the context is cancelled (via signal or Stop).
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.mu.Unlock()

	if err := d.cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Open store (runs migrations).
	s, err := store.New(d.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	d.store = s

	if sa, ok := d.ipc.(StoreAware); ok {
		sa.SetStore(s)
	}

	d.runID = uuid.NewString()
	d.logger = d.logger.With("run_id", d.runID)
	if err := s.SetDaemonState("last_run_id", d.runID); err != nil {
		d.logger.Warn("persist run id", "error", err)
	}

	d.session = watcher.New(watcher.Options{
		Source:     d.source,
		Logger:     d.logger,
		Hesitation: d.cfg.Hesitation(),
		Debug:      d.cfg.Debug,
	})

	var revisions settings.RevisionFunc
	if d.cfg.TrackGit {
		revisions = gitint.RevisionOf
	}
	d.reloader = settings.NewReloader(settings.ReloaderOptions{
		Path:      d.cfg.SettingsPath,
		Logger:    d.logger,
		Recorder:  &storeRecorder{store: s, runID: d.runID},
		Revisions: revisions,
	})
	d.reloader.OnApply(func(snap *settings.Snapshot) {
		d.logger.Info("settings applied",
			"path", snap.Path,
			"format", string(snap.Format),
			"digest", snap.ShortDigest(),
			"keys", len(snap.Values),
		)
	})
	d.session.OnFileChanged(func() {
		d.reloader.Reload(settings.TriggerFileChanged)
	})

	// Create a signal-aware context.
	ctx, cancel := signalContext(context.Background())
	d.mu.Lock()
	d.ctx = ctx
	d.cancel = cancel
	d.startTime = time.Now()
	d.running = true
	d.mu.Unlock()

	d.reloader.Reload(settings.TriggerStartup)
	d.session.Init(d.cfg.SettingsPath)

	ipcErrCh := make(chan error, 1)
	go func() {
		ipcErrCh <- d.ipc.Listen(ctx, d.cfg.SocketPath)
	}()

	d.logger.Info("daemon started",
		"pid", os.Getpid(),
		"db", d.cfg.DBPath,
		"socket", d.cfg.SocketPath,
		"settings", d.session.Path(),
		"watch_state", d.session.State().String(),
	)

	// Block until context is cancelled or IPC server fails.
	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
	case err := <-ipcErrCh:
		if err != nil {
			d.logger.Error("IPC server error", "error", err)
		}
	}

	return d.shutdown()
}

// Stop triggers a graceful shutdown from outside (e.g. via IPC stop command).
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

// shutdown performs ordered teardown: watcher, IPC server, store, socket file.
func (d *Daemon) shutdown() error {
	d.logger.Info("shutting down")

	// Stop the watcher first so no reload races the store close.
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			d.logger.Warn("watcher close", "error", err)
		}
	}

	if d.ipc != nil {
		if err := d.ipc.Stop(); err != nil {
			d.logger.Warn("ipc stop", "error", err)
		}
	}

	if d.store != nil {
		if err := d.store.SetDaemonState("last_stopped_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
			d.logger.Warn("persist stop time", "error", err)
		}
		if err := d.store.Close(); err != nil {
			d.logger.Warn("store close", "error", err)
		}
	}

	_ = os.Remove(d.cfg.SocketPath)

	d.mu.Lock()
	d.running = false
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	d.logger.Info("daemon stopped")
	return nil
}

// Running returns true if the daemon is currently running.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Store returns the daemon's data store.
func (d *Daemon) Store() *store.Store {
	return d.store
}

// Config returns the daemon's configuration.
func (d *Daemon) Config() *config.Config {
	return d.cfg
}

// Uptime returns how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startTime.IsZero() {
		return 0
	}
	return time.Since(d.startTime)
}

// RunID returns the id generated for this run.
func (d *Daemon) RunID() string {
	return d.runID
}

// SettingsPath returns the watched settings file, absolute once watching.
func (d *Daemon) SettingsPath() string {
	if d.session != nil && d.session.Path() != "" {
		return d.session.Path()
	}
	return d.cfg.SettingsPath
}

// WatchState returns the watcher lifecycle state.
func (d *Daemon) WatchState() string {
	if d.session == nil {
		return watcher.StateIdle.String()
	}
	return d.session.State().String()
}

// Hesitation returns the configured quiet period.
func (d *Daemon) Hesitation() time.Duration {
	if d.session == nil {
		return d.cfg.Hesitation()
	}
	return d.session.Hesitation()
}

// Debug reports whether watcher traces are enabled.
func (d *Daemon) Debug() bool {
	if d.session == nil {
		return d.cfg.Debug
	}
	return d.session.Debug()
}

// SetDebug switches watcher traces and, if a level var was supplied, the
// log level.
func (d *Daemon) SetDebug(enabled bool) {
	if d.session != nil {
		d.session.SetDebug(enabled)
	}
	if d.level != nil {
		if enabled {
			d.level.Set(slog.LevelDebug)
		} else {
			d.level.Set(slog.LevelInfo)
		}
	}
	d.logger.Info("debug logging changed", "enabled", enabled)
}

// WatcherStats returns the watcher counters.
func (d *Daemon) WatcherStats() watcher.Stats {
	if d.session == nil {
		return watcher.Stats{}
	}
	return d.session.Stats()
}

// ActiveDigest returns the digest of the applied settings, or "".
func (d *Daemon) ActiveDigest() string {
	if d.reloader == nil {
		return ""
	}
	if snap := d.reloader.Current(); snap != nil {
		return snap.Digest
	}
	return ""
}

// Reload reloads the settings file immediately.
func (d *Daemon) Reload() settings.Record {
	if d.reloader == nil {
		return settings.Record{
			Path:    d.cfg.SettingsPath,
			Trigger: settings.TriggerManual,
			Outcome: settings.OutcomeError,
			Err:     "daemon not started",
			Time:    time.Now().UTC(),
		}
	}
	return d.reloader.Reload(settings.TriggerManual)
}
