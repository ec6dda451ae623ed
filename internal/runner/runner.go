package runner

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

// ErrTimeout is returned when a command outlives its per-invocation timeout
var ErrTimeout = errors.New("command timed out")

// Result holds the captured output of a finished command
type Result struct {
	Stdout []byte
	Stderr []byte
}

// ExitError is returned when a command exits with a non-zero status
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("command failed: %s (exit code %d)", e.Command, e.Code)
	}
	return fmt.Sprintf("command failed: %s (exit code %d): %s", e.Command, e.Code, msg)
}

// Runner executes external commands
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	timeout time.Duration
	// grace period between SIGTERM and SIGKILL
	waitDelay time.Duration
}

// New creates an ExecRunner. A zero timeout disables the per-invocation limit.
func New(timeout time.Duration) *ExecRunner {
	return &ExecRunner{
		timeout:   timeout,
		waitDelay: 5 * time.Second,
	}
}

// Run executes name with args and captures stdout and stderr
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.waitDelay

	commandLine := strings.Join(append([]string{name}, args...), " ")

	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, r.timeout, commandLine)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := stderr.String()
			if strings.TrimSpace(msg) == "" {
				msg = stdout.String()
			}
			return nil, &ExitError{
				Command: commandLine,
				Code:    exitErr.ExitCode(),
				Stderr:  msg,
			}
		}
		return nil, fmt.Errorf("failed to run %s: %w", name, err)
	}

	return &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}
