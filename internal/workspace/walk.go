// Package workspace provides file enumeration and path containment for
// agent workspaces. Tools never touch the filesystem directly; they go
// through a Resolver so that relative paths cannot escape the root.
package workspace

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// WalkOptions bounds a workspace traversal.
type WalkOptions struct {
	MaxFiles     int
	MaxDepth     int
	SkipDirNames map[string]bool
}

// DefaultWalkOptions returns the limits used by the repo tools. The
// skip list covers VCS metadata, dependency trees, and the harness's
// own state directories.
func DefaultWalkOptions() WalkOptions {
	return WalkOptions{
		MaxFiles: 5000,
		MaxDepth: 30,
		SkipDirNames: map[string]bool{
			".git":                 true,
			"node_modules":         true,
			"vendor":               true,
			"dist":                 true,
			"build":                true,
			"bin":                  true,
			".agent-harness":       true,
			".agent-harness-cache": true,
		},
	}
}

// Walk lists regular files under root as slash-separated relative
// paths, depth-first, stopping once MaxFiles paths are collected.
func Walk(root string, opts WalkOptions) ([]string, error) {
	if opts.MaxFiles <= 0 {
		return nil, fmt.Errorf("max_files must be > 0")
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 30
	}
	base, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if _, err := os.Stat(base); err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}

	var out []string
	var walkDir func(dir, rel string)
	walkDir = func(dir, rel string) {
		if len(out) >= opts.MaxFiles {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, entry := range entries {
			if len(out) >= opts.MaxFiles {
				return
			}
			nextRel := path.Join(rel, entry.Name())
			if entry.IsDir() {
				if opts.SkipDirNames[entry.Name()] {
					continue
				}
				if strings.Count(nextRel, "/")+1 > opts.MaxDepth {
					continue
				}
				walkDir(filepath.Join(dir, entry.Name()), nextRel)
				continue
			}
			if !entry.Type().IsRegular() {
				continue
			}
			out = append(out, nextRel)
		}
	}
	walkDir(base, "")
	return out, nil
}
