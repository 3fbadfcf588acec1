package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Volpestyle/vuhlp-code/internal/cancel"
	"github.com/Volpestyle/vuhlp-code/internal/spec"
	"github.com/Volpestyle/vuhlp-code/internal/store"
)

// RegisterSpecTools adds the spec authoring tools bound to specPath.
// Used in spec-mode sessions where the spec file is the primary
// artifact.
func RegisterSpecTools(r *Registry, specPath string) {
	r.Add(&readSpecTool{specPath: specPath})
	r.Add(&writeSpecTool{specPath: specPath})
	r.Add(&validateSpecTool{specPath: specPath})
}

type readSpecTool struct {
	specPath string
}

func (t *readSpecTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "read_spec",
		Description: "Read the current spec file.",
		Kind:        KindRead,
	}
}

func (t *readSpecTool) Invoke(call ToolCall, token *cancel.Token) (*ToolResult, error) {
	raw, err := os.ReadFile(t.specPath)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	return textResult(call.ID, string(raw)), nil
}

type writeSpecTool struct {
	specPath string
}

func (t *writeSpecTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:                 "write_spec",
		Description:          "Replace the spec file content.",
		Kind:                 KindWrite,
		AllowWithoutApproval: true,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"content": {"type": "string"}
			},
			"required": ["content"]
		}`),
	}
}

func (t *writeSpecTool) Invoke(call ToolCall, token *cancel.Token) (*ToolResult, error) {
	var in struct {
		Content string `json:"content"`
	}
	if err := decodeInput(call.Input, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("content is empty")
	}
	if err := os.MkdirAll(filepath.Dir(t.specPath), 0o755); err != nil {
		return nil, fmt.Errorf("create spec dir: %w", err)
	}
	content := in.Content
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := os.WriteFile(t.specPath, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write spec: %w", err)
	}
	return textResult(call.ID, "spec written"), nil
}

type validateSpecTool struct {
	specPath string
}

func (t *validateSpecTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "validate_spec",
		Description: "Check the spec file for the required headings.",
		Kind:        KindRead,
	}
}

func (t *validateSpecTool) Invoke(call ToolCall, token *cancel.Token) (*ToolResult, error) {
	raw, err := os.ReadFile(t.specPath)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	ok, problems := spec.Validate(string(raw))

	text := fmt.Sprintf("ok=%t\n", ok)
	if len(problems) > 0 {
		text += strings.Join(problems, "\n")
	}
	res := &ToolResult{
		ID: call.ID,
		OK: ok,
		Parts: []store.MessagePart{
			{Type: "text", Text: strings.TrimRight(text, "\n")},
			jsonPart(map[string]any{"ok": ok, "problems": problems}),
		},
	}
	if !ok {
		return res, fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return res, nil
}
