package ids

import (
	"strings"
	"testing"
)

func TestNewFormat(t *testing.T) {
	id := NewSession()
	if !strings.HasPrefix(id, "sess_") {
		t.Fatalf("expected sess_ prefix, got %s", id)
	}
	rest := strings.TrimPrefix(id, "sess_")
	parts := strings.SplitN(rest, "_", 2)
	if len(parts) != 2 {
		t.Fatalf("expected timestamp_random form, got %s", rest)
	}
	if len(parts[0]) != 16 || !strings.HasSuffix(parts[0], "z") {
		t.Fatalf("unexpected timestamp segment: %s", parts[0])
	}
	if len(parts[1]) != 16 {
		t.Fatalf("expected 16 base32 chars for 10 random bytes, got %d", len(parts[1]))
	}
}

func TestNewUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewToolCall()
		if seen[id] {
			t.Fatalf("duplicate id: %s", id)
		}
		seen[id] = true
	}
}

func TestPrefixes(t *testing.T) {
	cases := []struct {
		id     string
		prefix string
	}{
		{NewRun(), "run_"},
		{NewStep(), "step_"},
		{NewMessage(), "msg_"},
		{NewTurn(), "turn_"},
		{NewAttachment(), "att_"},
	}
	for _, tc := range cases {
		if !strings.HasPrefix(tc.id, tc.prefix) {
			t.Errorf("expected prefix %s, got %s", tc.prefix, tc.id)
		}
	}
}
