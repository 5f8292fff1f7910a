// Package subprocess runs local helper programs (kinit, the Kerberos
// remote-execution helper) and reports their exit status.
package subprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Command describes one invocation of a local program.
type Command struct {
	Path string
	Args []string

	// Env is appended to the current process environment.
	Env []string

	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Runner executes a Command and returns its exit code.
//
// A non-nil error means the program could not be started or was killed by
// ctx. A program that ran and exited nonzero returns its code with a nil error.
type Runner interface {
	Run(ctx context.Context, cmd Command) (int, error)
}

// Exec runs commands with os/exec.
type Exec struct{}

// Run implements Runner.
func (Exec) Run(ctx context.Context, cmd Command) (int, error) {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Env = append(os.Environ(), cmd.Env...)
	c.Dir = cmd.Dir
	c.Stdin = cmd.Stdin
	c.Stdout = cmd.Stdout
	c.Stderr = cmd.Stderr

	err := c.Run()
	if err == nil {
		return 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("failed to execute %s: %w", cmd.Path, err)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cmd Command) (int, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, cmd Command) (int, error) {
	return f(ctx, cmd)
}
