// Package settings loads the watched settings file and applies new
// versions of it when the watcher reports a change.
package settings

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// Format is how the settings file content is interpreted.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatRaw  Format = "raw"
)

var (
	// ErrMissing is returned when the settings file does not exist.
	ErrMissing = errors.New("settings file is missing")
	// ErrInvalid is returned when the settings file cannot be parsed.
	ErrInvalid = errors.New("settings file is invalid")
)

// Snapshot is one loaded version of the settings file.
type Snapshot struct {
	Path     string         `json:"path"`
	Format   Format         `json:"format"`
	Digest   string         `json:"digest"`
	Size     int64          `json:"size_bytes"`
	Values   map[string]any `json:"values,omitempty"`
	LoadedAt time.Time      `json:"loaded_at"`
}

// ShortDigest returns the first 12 hex characters of the digest.
func (s *Snapshot) ShortDigest() string {
	if s == nil {
		return ""
	}
	if len(s.Digest) > 12 {
		return s.Digest[:12]
	}
	return s.Digest
}

// FormatFor picks a format from the file extension.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatRaw
	}
}

// Load reads and parses the settings file at path.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	format := FormatFor(path)
	values, err := parse(format, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}

	return &Snapshot{
		Path:     path,
		Format:   format,
		Digest:   Digest(data),
		Size:     int64(len(data)),
		Values:   values,
		LoadedAt: time.Now().UTC(),
	}, nil
}

// Digest returns the hex BLAKE3 hash of data.
func Digest(data []byte) string {
	h := blake3.New()
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func parse(format Format, data []byte) (map[string]any, error) {
	switch format {
	case FormatJSON:
		var values map[string]any
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, err
		}
		if values == nil {
			return nil, errors.New("top level must be an object")
		}
		return values, nil

	case FormatYAML:
		var values map[string]any
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		if err := decoder.Decode(&values); err != nil {
			if errors.Is(err, io.EOF) {
				return map[string]any{}, nil
			}
			return nil, err
		}
		if values == nil {
			values = map[string]any{}
		}
		return values, nil

	default:
		return nil, nil
	}
}
