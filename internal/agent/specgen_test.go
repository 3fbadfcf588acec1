package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/Volpestyle/vuhlp-code/internal/config"
	"github.com/Volpestyle/vuhlp-code/internal/kit"
	"github.com/Volpestyle/vuhlp-code/internal/spec"
)

func TestGenerateSpecUsesModelOutput(t *testing.T) {
	provider := &scriptedProvider{outputs: []*kit.GenerateOutput{{
		Text:         "---\nname: demo\n---\n\n# Goal\n\nDo the thing\n\n# Constraints / nuances\n\n- none\n\n# Acceptance tests\n\n- make test",
		FinishReason: "stop",
	}}}
	gen := NewSpecGenerator(kit.New(provider), config.DefaultModelPolicy())

	content, err := gen.GenerateSpec(context.Background(), t.TempDir(), "demo", "do the thing")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(content, "\n") {
		t.Fatal("content must end with a newline")
	}
	if ok, problems := spec.Validate(content); !ok {
		t.Fatalf("generated spec invalid: %v", problems)
	}
}

func TestGenerateSpecFallsBackWithoutGoal(t *testing.T) {
	provider := &scriptedProvider{outputs: []*kit.GenerateOutput{{
		Text:         "sorry, here is some prose without headings",
		FinishReason: "stop",
	}}}
	gen := NewSpecGenerator(kit.New(provider), config.DefaultModelPolicy())

	content, err := gen.GenerateSpec(context.Background(), t.TempDir(), "demo", "build a login page")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(content, "build a login page") {
		t.Fatalf("fallback should embed the prompt: %s", content)
	}
	if ok, problems := spec.Validate(content); !ok {
		t.Fatalf("fallback spec invalid: %v", problems)
	}
}

func TestGenerateSpecEmptyOutput(t *testing.T) {
	provider := &scriptedProvider{outputs: []*kit.GenerateOutput{{Text: "   ", FinishReason: "stop"}}}
	gen := NewSpecGenerator(kit.New(provider), config.DefaultModelPolicy())
	if _, err := gen.GenerateSpec(context.Background(), t.TempDir(), "demo", "x"); err == nil {
		t.Fatal("expected error for empty model output")
	} else if !strings.Contains(err.Error(), "empty spec") {
		t.Fatalf("unexpected error: %v", err)
	}
}
