package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Volpestyle/vuhlp-code/internal/cancel"
	"github.com/Volpestyle/vuhlp-code/internal/exec"
	"github.com/Volpestyle/vuhlp-code/internal/store"
	"github.com/Volpestyle/vuhlp-code/internal/symbols"
	"github.com/Volpestyle/vuhlp-code/internal/workspace"
)

const (
	defaultTreeFiles    = 500
	defaultMapSymbols   = 400
	maxReadLines        = 400
	maxSearchResults    = 50
	gitStatusTimeout    = 10 * time.Second
	shellDefaultTimeout = 30 * time.Minute
)

// DefaultRegistry builds the standard workspace toolset. verifyCommands
// feed the verify tool; an empty list leaves verification a no-op.
func DefaultRegistry(workspacePath string, verifyCommands []string) *Registry {
	r := NewRegistry()
	r.Add(&repoTreeTool{workspace: workspacePath})
	r.Add(&repoMapTool{workspace: workspacePath})
	r.Add(&readFileTool{workspace: workspacePath})
	r.Add(&searchTool{workspace: workspacePath})
	r.Add(&gitStatusTool{workspace: workspacePath})
	r.Add(&applyPatchTool{workspace: workspacePath})
	r.Add(&shellTool{workspace: workspacePath})
	r.Add(&diagramTool{workspace: workspacePath})
	r.Add(&verifyTool{workspace: workspacePath, commands: verifyCommands})
	return r
}

func textResult(id, text string) *ToolResult {
	return &ToolResult{ID: id, OK: true, Parts: []store.MessagePart{{Type: "text", Text: text}}}
}

func jsonPart(v any) store.MessagePart {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return store.MessagePart{Type: "text", Text: fmt.Sprintf("marshal result: %v", err)}
	}
	return store.MessagePart{Type: "text", Text: string(raw)}
}

func decodeInput(input string, dst any) error {
	normalized := NormalizeToolInput(input)
	if err := json.Unmarshal([]byte(normalized), dst); err != nil {
		return fmt.Errorf("parse tool input: %w", err)
	}
	return nil
}

// repoTreeTool lists workspace files.

type repoTreeTool struct {
	workspace string
}

func (t *repoTreeTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "repo_tree",
		Description: "List workspace files (relative paths, capped).",
		Kind:        KindRead,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"max_files": {"type": "integer", "minimum": 1}
			}
		}`),
	}
}

func (t *repoTreeTool) Invoke(call ToolCall, token *cancel.Token) (*ToolResult, error) {
	var in struct {
		MaxFiles int `json:"max_files"`
	}
	if err := decodeInput(call.Input, &in); err != nil {
		return nil, err
	}
	opts := workspace.DefaultWalkOptions()
	opts.MaxFiles = defaultTreeFiles
	if in.MaxFiles > 0 {
		opts.MaxFiles = in.MaxFiles
	}
	files, err := workspace.Walk(t.workspace, opts)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return textResult(call.ID, "(no files)"), nil
	}
	return textResult(call.ID, strings.Join(files, "\n")), nil
}

// repoMapTool renders the ctags symbol map.

type repoMapTool struct {
	workspace string
}

func (t *repoMapTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "repo_map",
		Description: "Symbol map of the workspace (files, symbols, line numbers).",
		Kind:        KindRead,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"max_symbols": {"type": "integer", "minimum": 1}
			}
		}`),
	}
}

func (t *repoMapTool) Invoke(call ToolCall, token *cancel.Token) (*ToolResult, error) {
	var in struct {
		MaxSymbols int `json:"max_symbols"`
	}
	if err := decodeInput(call.Input, &in); err != nil {
		return nil, err
	}
	maxSymbols := defaultMapSymbols
	if in.MaxSymbols > 0 {
		maxSymbols = in.MaxSymbols
	}
	files, err := workspace.Walk(t.workspace, workspace.DefaultWalkOptions())
	if err != nil {
		return nil, err
	}
	text, err := symbols.BuildRepoMap(t.workspace, files, maxSymbols, token)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		text = "(no symbols)"
	}
	return textResult(call.ID, text), nil
}

// readFileTool reads a bounded line window from a workspace file.

type readFileTool struct {
	workspace string
}

func (t *readFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "read_file",
		Description: "Read a file from the workspace. Returns at most 400 lines.",
		Kind:        KindRead,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"start_line": {"type": "integer"},
				"end_line": {"type": "integer"}
			},
			"required": ["path"]
		}`),
	}
}

func (t *readFileTool) Invoke(call ToolCall, token *cancel.Token) (*ToolResult, error) {
	var in struct {
		Path      string `json:"path"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
	}
	if err := decodeInput(call.Input, &in); err != nil {
		return nil, err
	}
	resolver, err := workspace.NewResolver(t.workspace)
	if err != nil {
		return nil, err
	}
	abs, err := resolver.Resolve(in.Path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", in.Path, err)
	}
	lines := strings.Split(string(raw), "\n")

	start := in.StartLine
	if start < 1 {
		start = 1
	}
	end := in.EndLine
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > end {
		start = end
	}
	if end-start+1 > maxReadLines {
		end = start + maxReadLines - 1
	}
	window := lines[start-1 : end]
	header := fmt.Sprintf("%s (lines %d-%d of %d)\n", in.Path, start, end, len(lines))
	return textResult(call.ID, header+strings.Join(window, "\n")), nil
}

// searchTool greps workspace files for a substring.

type searchTool struct {
	workspace string
}

func (t *searchTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "search",
		Description: "Search workspace files for a substring. Optional glob filters file names.",
		Kind:        KindRead,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string"},
				"glob": {"type": "string"},
				"max_results": {"type": "integer", "minimum": 1}
			},
			"required": ["query"]
		}`),
	}
}

func (t *searchTool) Invoke(call ToolCall, token *cancel.Token) (*ToolResult, error) {
	var in struct {
		Query      string `json:"query"`
		Glob       string `json:"glob"`
		MaxResults int    `json:"max_results"`
	}
	if err := decodeInput(call.Input, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("query is empty")
	}
	maxResults := maxSearchResults
	if in.MaxResults > 0 && in.MaxResults < maxResults {
		maxResults = in.MaxResults
	}
	files, err := workspace.Walk(t.workspace, workspace.DefaultWalkOptions())
	if err != nil {
		return nil, err
	}

	var hits []string
	for _, rel := range files {
		if token.Cancelled() {
			return nil, cancel.ErrCanceled
		}
		if in.Glob != "" {
			ok, err := filepath.Match(in.Glob, filepath.Base(rel))
			if err != nil || !ok {
				continue
			}
		}
		raw, err := os.ReadFile(filepath.Join(t.workspace, rel))
		if err != nil {
			continue
		}
		for i, line := range strings.Split(string(raw), "\n") {
			if strings.Contains(line, in.Query) {
				hits = append(hits, fmt.Sprintf("%s:%d:%s", rel, i+1, strings.TrimSpace(line)))
				if len(hits) >= maxResults {
					break
				}
			}
		}
		if len(hits) >= maxResults {
			break
		}
	}
	if len(hits) == 0 {
		return textResult(call.ID, "(no matches)"), nil
	}
	return textResult(call.ID, strings.Join(hits, "\n")), nil
}

// gitStatusTool shows porcelain git status.

type gitStatusTool struct {
	workspace string
}

func (t *gitStatusTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "git_status",
		Description: "Show git status (porcelain) for the workspace.",
		Kind:        KindRead,
	}
}

func (t *gitStatusTool) Invoke(call ToolCall, token *cancel.Token) (*ToolResult, error) {
	res, err := exec.Run("git status --porcelain", exec.Options{
		Dir:     t.workspace,
		Timeout: gitStatusTimeout,
		Token:   token,
	})
	if err != nil {
		return nil, err
	}
	out := strings.TrimRight(res.Stdout, "\n")
	if out == "" {
		out = "(clean)"
	}
	return textResult(call.ID, out), nil
}

// applyPatchTool applies a unified diff via git apply.

type applyPatchTool struct {
	workspace string
}

func (t *applyPatchTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:             "apply_patch",
		Description:      "Apply a unified diff to the workspace with git apply.",
		Kind:             KindWrite,
		RequiresApproval: true,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"patch": {"type": "string"}
			},
			"required": ["patch"]
		}`),
	}
}

func (t *applyPatchTool) Invoke(call ToolCall, token *cancel.Token) (*ToolResult, error) {
	var in struct {
		Patch string `json:"patch"`
	}
	if err := decodeInput(call.Input, &in); err != nil {
		return nil, err
	}
	res, err := exec.ApplyUnifiedDiff(t.workspace, in.Patch, token)
	if err != nil {
		out := &ToolResult{ID: call.ID}
		if res != nil {
			out.Parts = []store.MessagePart{jsonPart(res)}
		}
		return out, err
	}
	return &ToolResult{ID: call.ID, OK: true, Parts: []store.MessagePart{jsonPart(res)}}, nil
}

// shellTool runs an arbitrary command in the workspace.

type shellTool struct {
	workspace string
}

func (t *shellTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:             "shell",
		Description:      "Run a shell command in the workspace and return stdout, stderr, and exit code.",
		Kind:             KindExec,
		RequiresApproval: true,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string"},
				"timeout_seconds": {"type": "number", "minimum": 1}
			},
			"required": ["command"]
		}`),
	}
}

func (t *shellTool) Invoke(call ToolCall, token *cancel.Token) (*ToolResult, error) {
	var in struct {
		Command        string  `json:"command"`
		TimeoutSeconds float64 `json:"timeout_seconds"`
	}
	if err := decodeInput(call.Input, &in); err != nil {
		return nil, err
	}
	timeout := shellDefaultTimeout
	if in.TimeoutSeconds > 0 {
		timeout = time.Duration(in.TimeoutSeconds * float64(time.Second))
	}
	res, err := exec.Run(in.Command, exec.Options{Dir: t.workspace, Timeout: timeout, Token: token})
	if err != nil {
		out := &ToolResult{ID: call.ID}
		if res != nil {
			out.Parts = []store.MessagePart{jsonPart(res)}
		}
		return out, err
	}
	return &ToolResult{ID: call.ID, OK: true, Parts: []store.MessagePart{jsonPart(res)}}, nil
}

// diagramTool regenerates workspace diagrams via make.

type diagramTool struct {
	workspace string
}

func (t *diagramTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:             "diagram",
		Description:      "Render repository diagrams by running `make diagrams`.",
		Kind:             KindExec,
		RequiresApproval: true,
	}
}

func (t *diagramTool) Invoke(call ToolCall, token *cancel.Token) (*ToolResult, error) {
	res, err := exec.Run("make diagrams", exec.Options{
		Dir:     t.workspace,
		Timeout: shellDefaultTimeout,
		Token:   token,
	})
	if err != nil {
		out := &ToolResult{ID: call.ID}
		if res != nil {
			out.Parts = []store.MessagePart{jsonPart(res)}
		}
		return out, err
	}
	return &ToolResult{ID: call.ID, OK: true, Parts: []store.MessagePart{jsonPart(res)}}, nil
}

// verifyTool runs the configured verification commands in order.

type verifyTool struct {
	workspace string
	commands  []string
}

func (t *verifyTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "verify",
		Description: "Run the configured verification commands (tests, linters).",
		Kind:        KindExec,
	}
}

func (t *verifyTool) Invoke(call ToolCall, token *cancel.Token) (*ToolResult, error) {
	// Every command runs; one failure does not mask the rest.
	var results []*exec.CmdResult
	ok := true
	for _, cmd := range t.commands {
		res, err := exec.Run(cmd, exec.Options{Dir: t.workspace, Timeout: shellDefaultTimeout, Token: token})
		if res == nil {
			res = &exec.CmdResult{Cmd: cmd, ExitCode: 1, Stderr: err.Error()}
		}
		results = append(results, res)
		if err != nil {
			ok = false
		}
	}
	out := &ToolResult{ID: call.ID, Parts: []store.MessagePart{jsonPart(results)}}
	if !ok {
		return out, fmt.Errorf("verification failed")
	}
	out.OK = true
	return out, nil
}
