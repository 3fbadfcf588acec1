package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Settings is the mutable part of the configuration, persisted as
// settings.json in the data directory so policy changes survive
// restarts.
type Settings struct {
	ModelPolicy ModelPolicy `json:"model_policy"`
}

// LoadSettings reads settings from path. The second return value
// reports whether the file existed.
func LoadSettings(path string) (Settings, bool, error) {
	if strings.TrimSpace(path) == "" {
		return Settings{}, false, fmt.Errorf("path is empty")
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Settings{ModelPolicy: DefaultModelPolicy()}, false, nil
	}
	if err != nil {
		return Settings{}, false, fmt.Errorf("read settings: %w", err)
	}
	settings := Settings{ModelPolicy: DefaultModelPolicy()}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return Settings{}, false, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return settings, true, nil
}

// SaveSettings writes settings to path, creating parent directories.
func SaveSettings(path string, settings Settings) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	raw, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}
