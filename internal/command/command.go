// Package command runs external tools (yt-dlp, ffmpeg, transcription and
// diarization CLIs) and captures their output.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// DefaultWaitDelay is how long a cancelled process has to exit after SIGTERM
// before it is killed.
const DefaultWaitDelay = 10 * time.Second

// maxOutput bounds the stderr text kept on errors.
const maxOutput = 4096

var errExit = errors.New("non-zero exit status")

// Result is the captured outcome of one process run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner abstracts process execution for testability.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct {
	Dir       string
	WaitDelay time.Duration
}

// Run executes one command and captures stdout, stderr and the exit code.
// A non-zero exit is returned as *Error.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	res.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return res, &Error{Name: name, Code: res.ExitCode, Stderr: res.Stderr, Err: err}
}

// Error is a failed process run. It carries the exit code and stderr for the
// error classifier.
type Error struct {
	Name   string
	Code   int
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := lastLines(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("command: %s exited %d: %v", e.Name, e.Code, e.Err)
	}
	return fmt.Sprintf("command: %s exited %d: %s", e.Name, e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Output returns the captured stderr.
func (e *Error) Output() string { return e.Stderr }

// ExitCode returns the process exit code.
func (e *Error) ExitCode() int { return e.Code }

// lastLines keeps the tail of noisy tool output, where the error usually is.
func lastLines(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxOutput {
		return s
	}
	s = s[len(s)-maxOutput:]
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return s
}
