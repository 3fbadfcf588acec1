package main

import (
	"testing"
)

func TestBuildRootCmd(t *testing.T) {
	root := buildRootCmd()
	for _, name := range []string{"init", "spec", "run", "attach", "approve", "cancel", "list", "export", "session", "models", "doctor"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Errorf("command %q not registered: %v", name, err)
		}
	}
	for _, sub := range []string{"new", "message", "attach", "approve", "cancel", "events"} {
		if cmd, _, err := root.Find([]string{"session", sub}); err != nil || cmd.Name() != sub {
			t.Errorf("session subcommand %q not registered: %v", sub, err)
		}
	}
}

func TestNewClientBaseURL(t *testing.T) {
	t.Setenv("HARNESS_URL", "")
	c := newClient("")
	if c.baseURL != defaultBaseURL {
		t.Fatalf("unexpected default base url: %s", c.baseURL)
	}

	c = newClient("http://example.test:9999/")
	if c.baseURL != "http://example.test:9999" {
		t.Fatalf("trailing slash not trimmed: %s", c.baseURL)
	}

	t.Setenv("HARNESS_URL", "http://env.test:8000")
	c = newClient("")
	if c.baseURL != "http://env.test:8000" {
		t.Fatalf("env url not applied: %s", c.baseURL)
	}
}

func TestDetectMime(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"photo.png", "image/png"},
		{"notes", "application/octet-stream"},
		{"data.unknownext9", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := detectMime(tt.path); got != tt.want {
			t.Errorf("detectMime(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
