package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr != "127.0.0.1:8787" {
		t.Fatalf("unexpected listen addr: %s", cfg.ListenAddr)
	}
	if cfg.DataDir != "~/.agent-harness" {
		t.Fatalf("unexpected data dir: %s", cfg.DataDir)
	}
	if cfg.ModelPolicy.MaxCostUSD != 5.0 {
		t.Fatalf("unexpected policy: %+v", cfg.ModelPolicy)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"listen_addr":"0.0.0.0:9000","auth_token":"secret","model_policy":{"require_tools":true,"max_cost_usd":2.5,"preferred_models":["anthropic/claude-sonnet-4"]}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" || cfg.AuthToken != "secret" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !cfg.ModelPolicy.RequireTools || cfg.ModelPolicy.MaxCostUSD != 2.5 {
		t.Fatalf("policy not loaded: %+v", cfg.ModelPolicy)
	}
	// data_dir absent from the file keeps its default.
	if cfg.DataDir != "~/.agent-harness" {
		t.Fatalf("missing field should keep default: %s", cfg.DataDir)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandHome("~"); got != home {
		t.Fatalf("got %s want %s", got, home)
	}
	if got := ExpandHome("~/.agent-harness"); got != filepath.Join(home, ".agent-harness") {
		t.Fatalf("unexpected expansion: %s", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Fatalf("absolute path must pass through: %s", got)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")

	settings, existed, err := LoadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Fatal("settings should not exist yet")
	}
	if settings.ModelPolicy.MaxCostUSD != 5.0 {
		t.Fatalf("expected default policy, got %+v", settings.ModelPolicy)
	}

	settings.ModelPolicy.RequireTools = true
	settings.ModelPolicy.PreferredModels = []string{"openai/gpt-4o"}
	if err := SaveSettings(path, settings); err != nil {
		t.Fatal(err)
	}

	loaded, existed, err := LoadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Fatal("settings should exist after save")
	}
	if !loaded.ModelPolicy.RequireTools || len(loaded.ModelPolicy.PreferredModels) != 1 {
		t.Fatalf("settings not preserved: %+v", loaded.ModelPolicy)
	}
}
