package agent

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Volpestyle/vuhlp-code/internal/cancel"
	"github.com/Volpestyle/vuhlp-code/internal/exec"
	"github.com/Volpestyle/vuhlp-code/internal/symbols"
	"github.com/Volpestyle/vuhlp-code/internal/workspace"
)

// ContextBundle is the workspace snapshot prepended to model prompts.
type ContextBundle struct {
	AgentsMD  string
	RepoTree  string
	RepoMap   string
	GitStatus string
}

// GatherContext collects AGENTS.md, a file tree, a symbol map, and git
// status. Everything is best effort: a workspace without ctags or git
// still yields a usable bundle.
func GatherContext(workspacePath string, token *cancel.Token) ContextBundle {
	bundle := ContextBundle{}

	if raw, err := os.ReadFile(filepath.Join(workspacePath, "AGENTS.md")); err == nil {
		bundle.AgentsMD = string(raw)
	}

	opts := workspace.DefaultWalkOptions()
	opts.MaxFiles = defaultTreeFiles
	files, err := workspace.Walk(workspacePath, opts)
	if err == nil && len(files) > 0 {
		bundle.RepoTree = strings.Join(files, "\n")
		if repoMap, err := symbols.BuildRepoMap(workspacePath, files, defaultMapSymbols, token); err == nil {
			bundle.RepoMap = repoMap
		}
	}

	if _, err := os.Stat(filepath.Join(workspacePath, ".git")); err == nil {
		res, err := exec.Run("git status --porcelain", exec.Options{
			Dir:     workspacePath,
			Timeout: 10 * time.Second,
			Token:   token,
		})
		if err == nil {
			bundle.GitStatus = strings.TrimRight(res.Stdout, "\n")
		}
	}
	return bundle
}

// Text renders the bundle as the system context block.
func (b ContextBundle) Text() string {
	var sb strings.Builder
	sb.WriteString("Workspace context:\n")
	if b.AgentsMD != "" {
		sb.WriteString("AGENTS.md:\n")
		sb.WriteString(b.AgentsMD)
		sb.WriteString("\n\n")
	}
	if b.RepoTree != "" {
		sb.WriteString("REPO TREE:\n")
		sb.WriteString(b.RepoTree)
		sb.WriteString("\n\n")
	}
	if b.RepoMap != "" {
		sb.WriteString("REPO MAP:\n")
		sb.WriteString(b.RepoMap)
		sb.WriteString("\n\n")
	}
	if b.GitStatus != "" {
		sb.WriteString("GIT STATUS:\n")
		sb.WriteString(b.GitStatus)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}
