package exec

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Volpestyle/vuhlp-code/internal/cancel"
)

// ErrNotGitRepo is returned when the workspace has no .git directory.
var ErrNotGitRepo = errors.New("workspace is not a git repository (.git not found)")

const patchTimeout = 60 * time.Second

// PatchResult reports the outcome of a diff application.
type PatchResult struct {
	Applied bool   `json:"applied"`
	Stdout  string `json:"stdout,omitempty"`
	Stderr  string `json:"stderr,omitempty"`
}

// ApplyUnifiedDiff pipes diff into "git apply --whitespace=nowarn -" in
// the workspace. The workspace must already be a git repository.
func ApplyUnifiedDiff(workspace, diff string, token *cancel.Token) (*PatchResult, error) {
	if strings.TrimSpace(diff) == "" {
		return nil, fmt.Errorf("diff is empty")
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if _, err := os.Stat(filepath.Join(abs, ".git")); err != nil {
		return nil, ErrNotGitRepo
	}

	c := osexec.Command("git", "apply", "--whitespace=nowarn", "-")
	c.Dir = abs
	c.Stdin = strings.NewReader(diff)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("start git apply: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Wait() }()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-done:
	case <-time.After(patchTimeout):
		timedOut = true
		killGroup(c)
		waitErr = <-done
	case <-token.Done():
		killGroup(c)
		waitErr = <-done
	}

	res := &PatchResult{Applied: false, Stdout: stdout.String(), Stderr: stderr.String()}
	if timedOut {
		return res, fmt.Errorf("git apply failed (timeout)")
	}
	if waitErr != nil {
		return res, fmt.Errorf("git apply failed (exit %d): %s", exitCode(c, waitErr), strings.TrimSpace(stderr.String()))
	}
	res.Applied = true
	return res, nil
}
