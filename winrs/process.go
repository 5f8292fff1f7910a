package winrs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/smnsjas/go-winexec/wsman"
)

// signalTimeout bounds the terminate signal sent after a command finishes
// or is abandoned.
const signalTimeout = 10 * time.Second

// Process represents a command running in a WinRS shell.
type Process struct {
	shell     *Shell
	commandID string
	exitCode  int
	done      bool
	mu        sync.Mutex
}

// Run starts commandLine and streams its output into stdout and stderr until
// it finishes. It returns the command's exit code.
func (s *Shell) Run(ctx context.Context, commandLine string, stdout, stderr io.Writer) (int, error) {
	proc, err := s.Start(ctx, commandLine)
	if err != nil {
		return -1, err
	}
	if err := proc.Wait(ctx, stdout, stderr); err != nil {
		return -1, err
	}
	return proc.ExitCode(), nil
}

// Start executes a command line without waiting for completion.
// Use Wait to stream its output.
func (s *Shell) Start(ctx context.Context, commandLine string) (*Process, error) {
	if s.Closed() {
		return nil, ErrShellClosed
	}
	if commandLine == "" {
		return nil, ErrInvalidExecutable
	}

	commandID, err := s.transport.Command(ctx, s.epr, commandLine)
	if err != nil {
		return nil, fmt.Errorf("winrs: start command: %w", err)
	}

	return &Process{
		shell:     s,
		commandID: commandID,
	}, nil
}

// Wait polls the command until it completes, copying output as it arrives.
// nil writers discard the stream.
//
// On return the command is signalled to terminate so the server releases it.
// That signal runs even when ctx is done.
func (p *Process) Wait(ctx context.Context, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return ErrProcessDone
	}
	p.mu.Unlock()

	defer p.terminate(ctx)

	timeouts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := p.shell.transport.Receive(ctx, p.shell.epr, p.commandID)
		if err != nil {
			if errors.Is(err, wsman.ErrOperationTimeout) && timeouts < p.shell.config.receiveRetries {
				timeouts++
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("winrs: receive output: %w", err)
		}

		if len(result.Stdout) > 0 {
			if _, err := stdout.Write(result.Stdout); err != nil {
				return fmt.Errorf("winrs: write stdout: %w", err)
			}
		}
		if len(result.Stderr) > 0 {
			if _, err := stderr.Write(result.Stderr); err != nil {
				return fmt.Errorf("winrs: write stderr: %w", err)
			}
		}

		if result.Done {
			p.mu.Lock()
			p.exitCode = result.ExitCode
			p.done = true
			p.mu.Unlock()
			return nil
		}
	}
}

func (p *Process) terminate(ctx context.Context) {
	sigCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), signalTimeout)
	defer cancel()
	// The command may already be gone; nothing useful to do with the error.
	_ = p.shell.transport.Signal(sigCtx, p.shell.epr, p.commandID, wsman.SignalTerminate)
}

// CommandID returns the command ID.
func (p *Process) CommandID() string {
	return p.commandID
}

// Done returns true if the process has completed.
func (p *Process) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// ExitCode returns the process exit code. Valid after Wait returns nil.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}
