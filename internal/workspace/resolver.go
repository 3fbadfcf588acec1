package workspace

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Resolver maps workspace-relative paths to absolute paths and rejects
// anything that would land outside the workspace root.
type Resolver struct {
	root string
}

// NewResolver creates a resolver rooted at the given workspace.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Resolver{root: abs}, nil
}

// Root returns the absolute workspace root.
func (r *Resolver) Root() string { return r.root }

// Resolve turns rel into an absolute path inside the workspace. It
// returns an error when the cleaned path escapes the root, including
// via ".." segments or an absolute path pointing elsewhere.
func (r *Resolver) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is empty")
	}
	candidate := rel
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(r.root, rel)
	}
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", rel, err)
	}
	relToRoot, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", rel, err)
	}
	if relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return abs, nil
}
