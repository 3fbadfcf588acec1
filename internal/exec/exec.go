// Package exec runs workspace shell commands and applies unified diffs.
//
// Commands go through "/bin/bash -lc" so PATH setup and shell syntax
// behave the way they do in a developer's terminal. Each command gets
// its own process group so that timeouts and cancellation kill the
// whole pipeline, not just the leader.
package exec

import (
	"bytes"
	"fmt"
	"os"
	osexec "os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/Volpestyle/vuhlp-code/internal/cancel"
)

// DefaultTimeout bounds commands that do not specify one.
const DefaultTimeout = 10 * time.Minute

// CmdResult captures a finished (or killed) command.
type CmdResult struct {
	Cmd      string `json:"cmd"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Duration string `json:"duration"`
}

// Options controls command execution.
type Options struct {
	Dir     string
	Env     map[string]string
	Timeout time.Duration
	Token   *cancel.Token
}

// CmdError is returned when a command exits non-zero, times out, or is
// cancelled. Result holds whatever output was collected.
type CmdError struct {
	Result *CmdResult
	msg    string
}

func (e *CmdError) Error() string { return e.msg }

// Run executes cmd under bash and returns its result. On failure the
// returned error is a *CmdError whose Result mirrors the first return
// value, so callers that only have the error still see the output.
func Run(cmd string, opts Options) (*CmdResult, error) {
	if strings.TrimSpace(cmd) == "" {
		return nil, fmt.Errorf("cmd is empty")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := osexec.Command("/bin/bash", "-lc", cmd)
	c.Dir = opts.Dir
	c.Env = os.Environ()
	for k, v := range opts.Env {
		c.Env = append(c.Env, k+"="+v)
	}
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Wait() }()

	var waitErr error
	timedOut := false
	cancelled := false
	select {
	case waitErr = <-done:
	case <-time.After(timeout):
		timedOut = true
		killGroup(c)
		waitErr = <-done
	case <-opts.Token.Done():
		cancelled = true
		killGroup(c)
		waitErr = <-done
	}

	res := &CmdResult{
		Cmd:      cmd,
		ExitCode: exitCode(c, waitErr),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
	}

	switch {
	case timedOut:
		return res, &CmdError{Result: res, msg: "command failed (timeout)"}
	case cancelled:
		return res, &CmdError{Result: res, msg: "command failed (canceled)"}
	case res.ExitCode != 0:
		return res, &CmdError{Result: res, msg: fmt.Sprintf("command failed (exit %d)", res.ExitCode)}
	}
	return res, nil
}

func killGroup(c *osexec.Cmd) {
	if c.Process == nil {
		return
	}
	// Negative pid targets the process group created by Setpgid.
	_ = syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
}

func exitCode(c *osexec.Cmd, waitErr error) int {
	if c.ProcessState != nil {
		if code := c.ProcessState.ExitCode(); code >= 0 {
			return code
		}
		return 1
	}
	if waitErr != nil {
		return 1
	}
	return 0
}
