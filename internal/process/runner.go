// Package process spawns external tools and captures their output.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ErrToolUnreachable marks a spawn failure: the executable is missing,
// not executable, or the OS refused to start it.
var ErrToolUnreachable = errors.New("tool unreachable")

// Result holds the fully drained output of one finished process.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// Runner abstracts process execution for testability.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct{}

// NewExecRunner returns the production runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes one command and waits for it. A nonzero exit status is
// reported through Result.ExitCode with a nil error; only spawn failures
// return an error, wrapping ErrToolUnreachable.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	ownProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, &UnreachableError{Path: name, Err: err}
	}

	// Wait returns only after both copy goroutines drained the pipes.
	err := cmd.Wait()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, fmt.Errorf("wait for %s: %w", name, err)
	}

	return result, nil
}

// UnreachableError carries the executable path of a failed spawn.
type UnreachableError struct {
	Path string
	Err  error
}

// Error formats the spawn failure for logs and job status.
func (e *UnreachableError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("could not run %s: %v", e.Path, e.Err)
}

// Unwrap exposes the OS error.
func (e *UnreachableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is match ErrToolUnreachable.
func (e *UnreachableError) Is(target error) bool {
	return target == ErrToolUnreachable
}
