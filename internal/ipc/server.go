package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/highbeam/settingswatch/internal/settings"
	"github.com/highbeam/settingswatch/internal/store"
	"github.com/highbeam/settingswatch/internal/watcher"
)

// DaemonQuerier is the interface the IPC server uses to query and steer
// the daemon. It keeps the ipc package free of a daemon import.
type DaemonQuerier interface {
	Uptime() time.Duration
	Stop()
	RunID() string
	SettingsPath() string
	WatchState() string
	Hesitation() time.Duration
	Debug() bool
	SetDebug(enabled bool)
	WatcherStats() watcher.Stats
	ActiveDigest() string
	Reload() settings.Record
}

// StoreQuerier provides data access methods needed by the IPC server.
type StoreQuerier interface {
	ReloadsCount() (int64, error)
	LastReload() (*store.ReloadRecord, error)
	DBSizeBytes() (int64, error)
}

// Server is a Unix domain socket server for CLI-to-daemon communication.
type Server struct {
	logger *slog.Logger

	mu       sync.Mutex
	daemon   DaemonQuerier
	store    StoreQuerier
	listener net.Listener
	stopped  bool
	wg       sync.WaitGroup
}

// NewServer creates a new IPC server. Either querier may be nil and set
// later with SetDaemon or SetStore.
func NewServer(daemon DaemonQuerier, st StoreQuerier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		daemon: daemon,
		store:  st,
		logger: logger.With("component", "ipc"),
	}
}

// Listen starts accepting connections on the given Unix socket path.
// It blocks until the context is cancelled, Stop is called, or accept fails.
func (s *Server) Listen(ctx context.Context, socketPath string) error {
	// Remove stale socket file if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", socketPath, err)
	}

	// Owner-only.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.stopped = false
	s.mu.Unlock()

	s.logger.Info("IPC server listening", "socket", socketPath)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Stop stops accepting connections and waits for in-flight connections to drain.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.stopped = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("drain timeout: connections still open after 5s")
	}
}

// SetStore updates the store reference after daemon startup.
func (s *Server) SetStore(st StoreQuerier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = st
}

// SetDaemon sets the daemon reference. Called after daemon creation to
// break the construction cycle (daemon needs server, server needs daemon).
func (s *Server) SetDaemon(d DaemonQuerier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daemon = d
}

func (s *Server) queriers() (DaemonQuerier, StoreQuerier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.daemon, s.store
}

// handleConn reads a single JSON request, dispatches it, and writes the response.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		writeError(conn, "empty request")
		return
	}

	var req Request
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		writeError(conn, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	s.logger.Debug("IPC request", "command", req.Command)

	daemon, st := s.queriers()

	switch req.Command {
	case CmdPing:
		writeResponse(conn, Response{OK: true, Data: "pong"})

	case CmdStatus:
		writeResponse(conn, Response{OK: true, Data: buildStatus(daemon, st)})

	case CmdStop:
		writeResponse(conn, Response{OK: true, Data: "shutting down"})
		if daemon != nil {
			daemon.Stop()
		}

	case CmdReload:
		if daemon == nil {
			writeError(conn, "daemon not ready")
			return
		}
		writeResponse(conn, Response{OK: true, Data: daemon.Reload()})

	case CmdDebug:
		if daemon == nil {
			writeError(conn, "daemon not ready")
			return
		}
		if v, ok := req.Args["enabled"]; ok {
			enabled, err := strconv.ParseBool(v)
			if err != nil {
				writeError(conn, fmt.Sprintf("invalid enabled value %q", v))
				return
			}
			daemon.SetDebug(enabled)
		}
		writeResponse(conn, Response{OK: true, Data: DebugData{Debug: daemon.Debug()}})

	default:
		writeError(conn, fmt.Sprintf("unknown command: %q", req.Command))
	}
}

func buildStatus(daemon DaemonQuerier, st StoreQuerier) StatusData {
	var data StatusData

	if daemon != nil {
		data.Uptime = daemon.Uptime().Truncate(time.Second).String()
		data.RunID = daemon.RunID()
		data.SettingsPath = daemon.SettingsPath()
		data.WatchState = daemon.WatchState()
		data.HesitationMS = daemon.Hesitation().Milliseconds()
		data.Debug = daemon.Debug()
		data.ActiveDigest = daemon.ActiveDigest()
		data.Watcher = daemon.WatcherStats()
	}

	if st != nil {
		if v, err := st.DBSizeBytes(); err == nil {
			data.DBSizeBytes = v
		}
		if v, err := st.ReloadsCount(); err == nil {
			data.ReloadsCount = v
		}
		if v, err := st.LastReload(); err == nil {
			data.LastReload = v
		}
	}

	return data
}

func writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}

func writeError(conn net.Conn, msg string) {
	writeResponse(conn, Response{OK: false, Error: msg})
}
