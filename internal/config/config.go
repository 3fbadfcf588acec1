// Package config holds daemon configuration: listen address, data
// directory, auth token, and the model policy. Values are resolved in
// order: defaults, config file, HARNESS_* environment, flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ModelPolicy constrains which models the router may pick.
type ModelPolicy struct {
	RequireTools    bool     `json:"require_tools"`
	RequireVision   bool     `json:"require_vision"`
	MaxCostUSD      float64  `json:"max_cost_usd"`
	PreferredModels []string `json:"preferred_models"`
}

// Config is the daemon's resolved configuration.
type Config struct {
	ListenAddr  string      `json:"listen_addr"`
	DataDir     string      `json:"data_dir"`
	AuthToken   string      `json:"auth_token"`
	ModelPolicy ModelPolicy `json:"model_policy"`
}

// DefaultModelPolicy is the policy used when nothing is configured.
func DefaultModelPolicy() ModelPolicy {
	return ModelPolicy{MaxCostUSD: 5.0, PreferredModels: []string{}}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:  "127.0.0.1:8787",
		DataDir:     "~/.agent-harness",
		AuthToken:   "",
		ModelPolicy: DefaultModelPolicy(),
	}
}

// LoadFromFile reads a JSON config file. Missing fields get defaults.
func LoadFromFile(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, fmt.Errorf("path is empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv fills unset fields from HARNESS_LISTEN, HARNESS_DATA_DIR,
// and HARNESS_AUTH_TOKEN.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("HARNESS_LISTEN"); v != "" && c.ListenAddr == "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("HARNESS_DATA_DIR"); v != "" && c.DataDir == "" {
		c.DataDir = v
	}
	if v := os.Getenv("HARNESS_AUTH_TOKEN"); v != "" && c.AuthToken == "" {
		c.AuthToken = v
	}
}

// ExpandHome resolves a leading "~" in the data directory.
func (c *Config) ExpandHome() {
	c.DataDir = ExpandHome(c.DataDir)
}

// ExpandHome resolves "~" and "~/..." against the user's home dir.
func ExpandHome(value string) string {
	if value == "" {
		return value
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return value
	}
	if value == "~" {
		return home
	}
	if strings.HasPrefix(value, "~/") {
		return filepath.Join(home, value[2:])
	}
	return value
}
