// Package spec manages spec.md files: canonical paths, scaffolding,
// and structural validation. A well-formed spec has a Goal heading, a
// Constraints heading, and an Acceptance tests heading.
package spec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultContent is the scaffold written when a spec file is created.
const DefaultContent = `# Goal

<describe the goal>

# Constraints / nuances

- <constraints>

# Acceptance tests

- <acceptance tests>
`

// DefaultPath returns the canonical spec location for a named spec
// inside a workspace: <workspace>/specs/<name>/spec.md.
func DefaultPath(workspacePath, name string) (string, error) {
	if strings.TrimSpace(workspacePath) == "" {
		return "", fmt.Errorf("workspace path is empty")
	}
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("spec name is empty")
	}
	abs, err := filepath.Abs(workspacePath)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	return filepath.Join(abs, "specs", name, "spec.md"), nil
}

// EnsureFile creates the spec file with scaffold content if it does
// not exist. Returns true when a file was created.
func EnsureFile(specPath string) (bool, error) {
	if strings.TrimSpace(specPath) == "" {
		return false, fmt.Errorf("spec path is empty")
	}
	if _, err := os.Stat(specPath); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(specPath), 0o755); err != nil {
		return false, fmt.Errorf("create spec dir: %w", err)
	}
	if err := os.WriteFile(specPath, []byte(DefaultContent), 0o644); err != nil {
		return false, fmt.Errorf("write spec: %w", err)
	}
	return true, nil
}

// Validate checks the spec's markdown headings. It returns ok plus a
// list of problems, one per missing heading.
func Validate(content string) (bool, []string) {
	hasGoal := false
	hasConstraints := false
	hasAcceptance := false
	for _, line := range strings.Split(content, "\n") {
		stripped := strings.TrimSpace(line)
		if !strings.HasPrefix(stripped, "#") {
			continue
		}
		title := strings.TrimSpace(strings.TrimLeft(stripped, "#"))
		if title == "" {
			continue
		}
		lower := strings.ToLower(title)
		if strings.HasPrefix(lower, "goal") {
			hasGoal = true
		}
		if strings.Contains(lower, "constraint") {
			hasConstraints = true
		}
		if strings.Contains(lower, "acceptance") {
			hasAcceptance = true
		}
	}
	var problems []string
	if !hasGoal {
		problems = append(problems, "missing heading: # Goal")
	}
	if !hasConstraints {
		problems = append(problems, "missing heading: # Constraints / nuances")
	}
	if !hasAcceptance {
		problems = append(problems, "missing heading: # Acceptance tests")
	}
	return len(problems) == 0, problems
}

// SafeName reports whether name is usable as a spec directory name.
func SafeName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}
