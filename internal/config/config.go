package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultHesitationMS is the quiet period, in milliseconds, before a
// burst of settings file changes is reported.
const DefaultHesitationMS = 1000

// Config holds all daemon configuration.
type Config struct {
	DataDir      string `json:"data_dir"`
	SocketPath   string `json:"socket_path"`
	DBPath       string `json:"db_path"`
	SettingsPath string `json:"settings_path"`
	HesitationMS int    `json:"hesitation_ms"`
	Debug        bool   `json:"debug"`
	TrackGit     bool   `json:"track_git"`
}

// DefaultDataDir returns the default data directory (~/.settingswatch).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".settingswatch")
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		DataDir:      dataDir,
		SocketPath:   filepath.Join(dataDir, "settingswatch.sock"),
		DBPath:       filepath.Join(dataDir, "settingswatch.db"),
		SettingsPath: filepath.Join(dataDir, "settings.json"),
		HesitationMS: DefaultHesitationMS,
		TrackGit:     true,
	}
}

// Load reads configuration from a JSON file, falling back to defaults
// for any unset fields.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Paths derived from the default data dir are cleared so that an
	// overridden data_dir carries them along.
	cfg.SocketPath, cfg.DBPath, cfg.SettingsPath = "", "", ""
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.SocketPath == "" {
		cfg.SocketPath = filepath.Join(cfg.DataDir, "settingswatch.sock")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "settingswatch.db")
	}
	if cfg.SettingsPath == "" {
		cfg.SettingsPath = filepath.Join(cfg.DataDir, "settings.json")
	}
	if cfg.HesitationMS <= 0 {
		cfg.HesitationMS = DefaultHesitationMS
	}

	return cfg, nil
}

// Hesitation returns HesitationMS as a duration.
func (c *Config) Hesitation() time.Duration {
	if c.HesitationMS <= 0 {
		return DefaultHesitationMS * time.Millisecond
	}
	return time.Duration(c.HesitationMS) * time.Millisecond
}

// EnsureDataDir creates the data directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

// ConfigPath returns the default path to the config file.
func ConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.json")
}
