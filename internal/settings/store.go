package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
)

const DefaultPath = "config.json"

// Store reads and writes the settings file.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load returns the persisted settings. A missing or unreadable file is not an
// error: ok is false and the process starts unconfigured.
func (s *Store) Load() (Settings, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info("No previous settings found", "path", s.path)
		} else {
			log.Warn("Failed to read settings", "path", s.path, "err", err)
		}
		return Settings{}, false
	}

	var out Settings
	if err := json.Unmarshal(data, &out); err != nil {
		log.Warn("Failed to parse settings", "path", s.path, "err", err)
		return Settings{}, false
	}

	log.Info("Settings loaded", "path", s.path, "agent", out.AgentName, "delay", int64(out.Delay))
	return out, true
}

// Save overwrites the file as a whole. The write goes through a temp file in
// the same directory so a crash never leaves a half-written file behind.
func (s *Store) Save(v Settings) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename %s: %w", s.path, err)
	}
	return nil
}
