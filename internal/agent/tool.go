// Package agent implements the harness core: the tool registry, run
// and session engines, plan generation, and spec authoring. Engines
// persist everything through the store and talk to models through the
// kit.
package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Volpestyle/vuhlp-code/internal/cancel"
	"github.com/Volpestyle/vuhlp-code/internal/kit"
	"github.com/Volpestyle/vuhlp-code/internal/store"
)

// Tool kinds describe the side-effect class of a tool. Write and exec
// tools require approval unless explicitly exempted.
const (
	KindRead  = "read"
	KindWrite = "write"
	KindExec  = "exec"
)

// ToolDefinition describes a tool to both the model and the approval
// policy.
type ToolDefinition struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	Kind                 string          `json:"kind"`
	Parameters           json.RawMessage `json:"parameters,omitempty"`
	RequiresApproval     bool            `json:"requires_approval"`
	AllowWithoutApproval bool            `json:"allow_without_approval"`
}

// ToolCall is a single invocation request. Input is the raw JSON
// argument string as produced by the model.
type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

// ToolResult is what a tool returns. Parts become the tool message
// content; Artifacts are workspace-relative paths of files the tool
// produced.
type ToolResult struct {
	ID        string              `json:"id"`
	OK        bool                `json:"ok"`
	Parts     []store.MessagePart `json:"parts,omitempty"`
	Artifacts []string            `json:"artifacts,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Tool is a named capability the model can invoke.
type Tool interface {
	Definition() ToolDefinition
	Invoke(call ToolCall, token *cancel.Token) (*ToolResult, error)
}

// Registry holds the tools available to a turn. Tool inputs are
// validated against the tool's JSON schema before invocation.
type Registry struct {
	mu      sync.Mutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}, schemas: map[string]*jsonschema.Schema{}}
}

// Add registers a tool, replacing any previous tool with the same name.
func (r *Registry) Add(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Definition().Name
	r.tools[name] = t
	delete(r.schemas, name)
}

// Get returns the tool by name, or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tools[name]
}

// Definitions returns tool definitions sorted by name.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Invoke validates the call's input and runs the tool. Unknown tools
// and tool panics become failed results, not errors, so a bad call
// never kills the turn.
func (r *Registry) Invoke(call ToolCall, token *cancel.Token) *ToolResult {
	tool := r.Get(call.Name)
	if tool == nil {
		return &ToolResult{ID: call.ID, OK: false, Error: "unknown tool"}
	}
	if err := r.validateInput(tool.Definition(), call.Input); err != nil {
		return &ToolResult{ID: call.ID, OK: false, Error: fmt.Sprintf("invalid input: %v", err)}
	}
	res, err := tool.Invoke(call, token)
	if err != nil {
		out := &ToolResult{ID: call.ID, OK: false, Error: err.Error()}
		if res != nil {
			out.Parts = res.Parts
			out.Artifacts = res.Artifacts
		}
		return out
	}
	if res == nil {
		return &ToolResult{ID: call.ID, OK: false, Error: "tool returned no result"}
	}
	res.ID = call.ID
	return res
}

func (r *Registry) validateInput(def ToolDefinition, input string) error {
	if len(def.Parameters) == 0 {
		return nil
	}
	sch, err := r.schemaFor(def)
	if err != nil {
		// An unparsable schema is a tool bug; do not block the call.
		return nil
	}
	var value any
	if err := json.Unmarshal([]byte(NormalizeToolInput(input)), &value); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return sch.Validate(value)
}

func (r *Registry) schemaFor(def ToolDefinition) (*jsonschema.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sch, ok := r.schemas[def.Name]; ok {
		return sch, nil
	}
	compiler := jsonschema.NewCompiler()
	url := "tool://" + def.Name + "/schema.json"
	if err := compiler.AddResource(url, strings.NewReader(string(def.Parameters))); err != nil {
		return nil, err
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	r.schemas[def.Name] = sch
	return sch, nil
}

// emptyObjectSchema is the parameter schema used for tools that take
// no arguments.
var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// KitDefinitions converts registered tools into kit tool definitions.
func (r *Registry) KitDefinitions() []kit.ToolDefinition {
	defs := r.Definitions()
	out := make([]kit.ToolDefinition, 0, len(defs))
	for _, def := range defs {
		params := def.Parameters
		if len(params) == 0 {
			params = emptyObjectSchema
		}
		out = append(out, kit.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  params,
		})
	}
	return out
}

// NormalizeToolInput canonicalizes a model-produced argument string.
// Blank or null input becomes an empty object; invalid JSON falls back
// to the last JSON object embedded in the text, which tolerates models
// that wrap arguments in prose.
func NormalizeToolInput(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" || trimmed == "null" {
		return "{}"
	}
	if json.Valid([]byte(trimmed)) {
		return trimmed
	}
	if obj := extractLastJSONObject(trimmed); obj != "" {
		return obj
	}
	return trimmed
}

// extractLastJSONObject scans backward for the last balanced JSON
// object in text, returning "" when none parses.
func extractLastJSONObject(text string) string {
	for end := strings.LastIndex(text, "}"); end >= 0; end = strings.LastIndex(text[:end], "}") {
		depth := 0
		for i := end; i >= 0; i-- {
			switch text[i] {
			case '}':
				depth++
			case '{':
				depth--
			}
			if depth == 0 {
				if candidate := text[i : end+1]; json.Valid([]byte(candidate)) {
					return candidate
				}
				break
			}
		}
	}
	return ""
}

// ToolCallKey identifies a call for duplicate detection within a turn:
// same tool with the same canonicalized input is a repeat.
func ToolCallKey(name, input string) string {
	normalized := NormalizeToolInput(input)
	var value any
	if err := json.Unmarshal([]byte(normalized), &value); err == nil {
		if compact, err := json.Marshal(value); err == nil {
			normalized = string(compact)
		}
	}
	return name + ":" + normalized
}

// FromKitCall converts a model tool call into a registry call with
// normalized input.
func FromKitCall(tc kit.ToolCall) ToolCall {
	return ToolCall{ID: tc.ID, Name: tc.Name, Input: NormalizeToolInput(tc.ArgumentsJSON)}
}
