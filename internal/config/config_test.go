package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.HesitationMS != 1000 {
		t.Errorf("HesitationMS = %d, want 1000", cfg.HesitationMS)
	}
	if !cfg.TrackGit {
		t.Error("TrackGit should default to true")
	}
	if filepath.Dir(cfg.DBPath) != cfg.DataDir || filepath.Dir(cfg.SocketPath) != cfg.DataDir {
		t.Errorf("derived paths not under data dir: %+v", cfg)
	}
	if cfg.Hesitation() != time.Second {
		t.Errorf("Hesitation() = %v, want 1s", cfg.Hesitation())
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != DefaultDataDir() {
		t.Errorf("DataDir = %q, want default", cfg.DataDir)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{"data_dir":"` + dir + `","settings_path":"/etc/app/settings.yaml","hesitation_ms":250,"debug":true,"track_git":false}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SocketPath != filepath.Join(dir, "settingswatch.sock") {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
	if cfg.DBPath != filepath.Join(dir, "settingswatch.db") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.SettingsPath != "/etc/app/settings.yaml" {
		t.Errorf("SettingsPath = %q", cfg.SettingsPath)
	}
	if cfg.Hesitation() != 250*time.Millisecond {
		t.Errorf("Hesitation() = %v", cfg.Hesitation())
	}
	if !cfg.Debug || cfg.TrackGit {
		t.Errorf("Debug = %v, TrackGit = %v", cfg.Debug, cfg.TrackGit)
	}
}

func TestLoadNonPositiveHesitation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"hesitation_ms":-5}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HesitationMS != DefaultHesitationMS {
		t.Errorf("HesitationMS = %d, want default", cfg.HesitationMS)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for malformed config")
	}
}
