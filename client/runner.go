package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/smnsjas/go-winexec/powershell"
)

// cleanupTimeout bounds scratch file removal, which runs even after the
// operation's context is done.
const cleanupTimeout = 30 * time.Second

// State is a step of a script run.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateFraming
	StateDispatching
	StateCleaning
	StateDone
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateFraming:
		return "framing"
	case StateDispatching:
		return "dispatching"
	case StateCleaning:
		return "cleaning"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateObserver is told about each state a run enters. batch counts from 1
// while dispatching and is 0 otherwise.
type StateObserver func(state State, batch, batches int)

// Job is one script run.
type Job struct {
	Script string
	Mode   powershell.Mode

	// Invocation starts powershell.exe for every framed command.
	Invocation powershell.Invocation

	// ScratchPath is where the unencoded and split modes stage the script.
	ScratchPath string
}

// CommandRunner frames scripts and dispatches them over a Transport.
type CommandRunner struct {
	transport  Transport
	transferer *FileTransferer
	logger     *slog.Logger
	metrics    *Metrics
	observer   StateObserver
	host       string
	execID     string

	// commands counts every command sent during the current run.
	commands int
}

// Run frames script, sends it in batches of at most powershell.MaxBatchSize
// commands, and removes the scratch file whatever the outcome. A nonzero
// exit status stops dispatch and is returned as KindScriptExecution.
func (r *CommandRunner) Run(ctx context.Context, job Job, stdout, stderr io.Writer) (int, error) {
	r.commands = 0
	r.transferer.commands = 0

	r.observe(StateFraming, 0, 0)
	plan := powershell.Frame(job.Mode, job.Script, job.ScratchPath, job.Invocation)

	code, err := r.dispatch(ctx, plan, job.Invocation, stdout, stderr)

	if plan.ScratchPath != "" {
		r.observe(StateCleaning, 0, 0)
		r.cleanup(ctx, plan.ScratchPath, job.Invocation)
	}
	r.observe(StateDone, 0, 0)

	if err != nil {
		return code, err
	}
	if code != 0 {
		e := r.error(KindScriptExecution, fmt.Errorf("command exited with code %d", code))
		e.ExitCode = code
		return code, e
	}
	return 0, nil
}

// Commands returns the number of commands sent by the last Run, including
// transfer and cleanup commands.
func (r *CommandRunner) Commands() int {
	return r.commands + r.transferer.commands
}

func (r *CommandRunner) dispatch(ctx context.Context, plan powershell.Plan, inv powershell.Invocation, stdout, stderr io.Writer) (int, error) {
	if len(plan.Transfer) > 0 {
		// Base64 text is ASCII, so raw appends carry it without a second
		// encoding. The scratch file is only ever removed by cleanup.
		if err := r.transferer.transfer(ctx, plan.ScratchPath, plan.Transfer, true, true, inv, nil, stdout, stderr); err != nil {
			return -1, err
		}
	}

	batches := powershell.Batch(plan.Commands, powershell.MaxBatchSize)
	for i, batch := range batches {
		r.observe(StateDispatching, i+1, len(batches))
		r.commands += len(batch)
		r.metrics.batchDispatched()

		code, err := r.transport.ExecuteBatch(ctx, batch, stdout, stderr)
		if err != nil {
			return -1, r.error(classifyError(err), err)
		}
		if code != 0 {
			if skipped := len(batches) - i - 1; skipped > 0 {
				r.logger.Debug("batch failed, skipping remaining batches",
					"batch", i+1,
					"skipped", skipped,
					"exit_code", code)
			}
			return code, nil
		}
	}
	return 0, nil
}

// cleanup removes path on the host. Failures are logged, never returned.
func (r *CommandRunner) cleanup(ctx context.Context, path string, inv powershell.Invocation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	r.commands++
	code, err := r.transport.Execute(ctx, powershell.Cleanup(path, inv), io.Discard, io.Discard)
	if err == nil && code != 0 {
		err = fmt.Errorf("exited with code %d", code)
	}
	if err != nil {
		r.metrics.cleanupFailed()
		r.logger.Warn("failed to remove scratch file", "path", path, "error", err)
	}
}

func (r *CommandRunner) observe(state State, batch, batches int) {
	if r.observer != nil {
		r.observer(state, batch, batches)
	}
}

func (r *CommandRunner) error(kind Kind, err error) *Error {
	return &Error{
		Kind:        kind,
		Host:        r.host,
		ExecutionID: r.execID,
		Err:         err,
	}
}
