package ipc

import (
	"github.com/highbeam/settingswatch/internal/store"
	"github.com/highbeam/settingswatch/internal/watcher"
)

// Commands understood by the daemon.
const (
	CmdPing   = "ping"
	CmdStatus = "status"
	CmdStop   = "stop"
	CmdReload = "reload"
	CmdDebug  = "debug"
)

// Request is a JSON message sent from client to server.
type Request struct {
	Command string            `json:"command"`
	Args    map[string]string `json:"args,omitempty"`
}

// Response is a JSON message sent from server to client.
type Response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// StatusData is returned by the "status" command.
type StatusData struct {
	Uptime       string              `json:"uptime"`
	RunID        string              `json:"run_id"`
	SettingsPath string              `json:"settings_path"`
	WatchState   string              `json:"watch_state"`
	HesitationMS int64               `json:"hesitation_ms"`
	Debug        bool                `json:"debug"`
	ActiveDigest string              `json:"active_digest,omitempty"`
	Watcher      watcher.Stats       `json:"watcher"`
	ReloadsCount int64               `json:"reloads_count"`
	LastReload   *store.ReloadRecord `json:"last_reload,omitempty"`
	DBSizeBytes  int64               `json:"db_size_bytes"`
}

// DebugData is returned by the "debug" command.
type DebugData struct {
	Debug bool `json:"debug"`
}
