package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smnsjas/go-winexec/internal/subprocess"
	"github.com/smnsjas/go-winexec/powershell"
	"github.com/smnsjas/go-winexec/wsman/auth"
	"github.com/smnsjas/go-winexec/wsman/transport"
)

// ErrSessionClosed is returned by operations on a closed Session.
var ErrSessionClosed = errors.New("session is closed")

// ExecutionResult is the outcome of one Session operation.
type ExecutionResult struct {
	ExitCode int
	Stdout   string

	// Stderr has PowerShell CLIXML error records decoded to text.
	Stderr string

	ExecutionID string
	Elapsed     time.Duration

	// CommandCount is the number of remote commands sent, including
	// cleanup.
	CommandCount int

	// Truncated reports that stdout or stderr exceeded MaxOutputBytes.
	Truncated bool
}

// Success reports whether the operation exited with code 0.
func (r *ExecutionResult) Success() bool {
	return r.ExitCode == 0
}

// Option configures Connect.
type Option func(*sessionOptions)

type sessionOptions struct {
	logger           *slog.Logger
	metrics          *Metrics
	runner           subprocess.Runner
	transport        Transport
	clock            Clock
	stateObserver    StateObserver
	transferObserver TransferObserver
}

// WithLogger sets the session logger. Every record carries the host and
// execution id.
func WithLogger(logger *slog.Logger) Option {
	return func(o *sessionOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records operation metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *sessionOptions) { o.metrics = m }
}

// WithSubprocessRunner replaces the runner used for kinit and the Kerberos
// helper.
func WithSubprocessRunner(r subprocess.Runner) Option {
	return func(o *sessionOptions) { o.runner = r }
}

// WithTransport uses t instead of connecting to the host.
func WithTransport(t Transport) Option {
	return func(o *sessionOptions) { o.transport = t }
}

// WithClock sets the clock used to measure elapsed time.
func WithClock(c Clock) Option {
	return func(o *sessionOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithStateObserver reports connect and run state changes to fn.
func WithStateObserver(fn StateObserver) Option {
	return func(o *sessionOptions) { o.stateObserver = fn }
}

// WithTransferObserver reports file transfer steps to fn.
func WithTransferObserver(fn TransferObserver) Option {
	return func(o *sessionOptions) { o.transferObserver = fn }
}

// Session is a connection to one Windows host. It holds exactly one
// Transport: a WinRS shell, or a Kerberos ticket cache used by the helper
// process.
//
// Operations on a Session are serialized: a call blocks until the previous
// one has returned. Use one Session per goroutine to run hosts in parallel.
type Session struct {
	mu sync.Mutex

	cfg        SessionConfig
	transport  Transport
	runner     *CommandRunner
	transferer *FileTransferer
	collector  *OutputVariableCollector

	logger   *slog.Logger
	security *SecurityLogger
	metrics  *Metrics
	clock    Clock

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// Connect validates cfg, authenticates, and opens the session transport.
// With AuthKerberos and a KerberosHelperPath commands run through the helper
// process; otherwise a WinRS shell is opened and reused for all commands.
func Connect(ctx context.Context, cfg SessionConfig, opts ...Option) (*Session, error) {
	o := sessionOptions{
		logger: slog.New(slog.DiscardHandler),
		clock:  realClock{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ExecutionID == "" {
		cfg.ExecutionID = uuid.NewString()
	}
	cfg.Environment = maps.Clone(cfg.Environment)
	cfg.CommandParameters = slices.Clone(cfg.CommandParameters)

	logger := o.logger.With("host", cfg.Hostname, "execution_id", cfg.ExecutionID)
	s := &Session{
		cfg:      cfg,
		logger:   logger,
		security: NewSecurityLogger(logger, cfg.Username, net.JoinHostPort(cfg.Hostname, strconv.Itoa(cfg.Port))),
		metrics:  o.metrics,
		clock:    o.clock,
	}

	observe := func(state State) {
		if o.stateObserver != nil {
			o.stateObserver(state, 0, 0)
		}
	}
	observe(StateIdle)
	observe(StateConnecting)

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	details := map[string]any{"scheme": string(cfg.AuthScheme), "helper": cfg.usesHelper()}
	s.security.LogAuthentication(SubtypeAuthAttempt, OutcomeAttempt, SeverityInfo, details)

	tr := o.transport
	if tr == nil {
		var err error
		tr, err = s.connect(ctx, o.runner)
		if err != nil {
			return nil, s.connectFailed(err)
		}
	}

	s.transport = tr
	s.transferer = &FileTransferer{
		transport: tr,
		inv:       cfg.invocation(),
		chunkSize: cfg.ChunkSize,
		raw:       cfg.DisableEncoding,
		logger:    logger,
		metrics:   o.metrics,
		host:      cfg.Hostname,
		execID:    cfg.ExecutionID,
		observer:  o.transferObserver,
	}
	s.runner = &CommandRunner{
		transport:  tr,
		transferer: s.transferer,
		logger:     logger,
		metrics:    o.metrics,
		observer:   o.stateObserver,
		host:       cfg.Hostname,
		execID:     cfg.ExecutionID,
	}
	s.collector = &OutputVariableCollector{
		transport: tr,
		encoded:   !cfg.DisableEncoding,
		logger:    logger,
		metrics:   o.metrics,
	}

	s.security.LogAuthentication(SubtypeAuthSuccess, OutcomeSuccess, SeverityInfo, details)
	s.security.LogConnection(SubtypeConnEstablished, OutcomeSuccess, SeverityInfo, nil)
	s.security.LogSession(SubtypeSessionOpened, OutcomeSuccess, SeverityInfo, nil)
	logger.Info("session connected", "config", cfg)
	return s, nil
}

// connect builds the transport selected by the configuration.
func (s *Session) connect(ctx context.Context, runner subprocess.Runner) (Transport, error) {
	if s.cfg.usesHelper() {
		return newSubprocessKerberosTransport(ctx, &s.cfg, runner, s.logger)
	}
	if s.cfg.AuthScheme == AuthKerberos && !s.cfg.UseTLS {
		s.logger.Warn("kerberos over SOAP sends unencrypted messages; the listener must allow unencrypted traffic")
	}
	return newInteractiveShellTransport(ctx, &s.cfg, s.logger)
}

// connectFailed classifies a connect error. Anything but cancellation or
// timeout is a connectivity failure.
func (s *Session) connectFailed(err error) error {
	kind := classifyError(err)
	if kind != KindInterrupted && kind != KindTimeout {
		kind = KindConnectivity
	}

	details := map[string]any{"error": err.Error(), "kind": kind.String()}
	if errors.Is(err, transport.ErrUnauthorized) || errors.Is(err, auth.ErrNegotiateRejected) {
		s.security.LogAuthentication(SubtypeAuthFailure, OutcomeDenied, SeverityWarning, details)
	}
	s.security.LogConnection(SubtypeConnFailed, OutcomeFailure, SeverityError, details)
	s.logger.Error("connect failed", "kind", kind.String(), "error", err)
	return s.newError(kind, err)
}

// ExecutionID returns the id naming this session's scratch files.
func (s *Session) ExecutionID() string {
	return s.cfg.ExecutionID
}

// Config returns a copy of the session configuration.
func (s *Session) Config() SessionConfig {
	cfg := s.cfg
	cfg.Environment = maps.Clone(cfg.Environment)
	cfg.CommandParameters = slices.Clone(cfg.CommandParameters)
	return cfg
}

// RunScript runs script in powershell.exe. params are added to the
// configured CommandParameters for this run. A nonzero exit code returns the
// result together with a KindScriptExecution error.
func (s *Session) RunScript(ctx context.Context, script string, params []powershell.Parameter, mode powershell.Mode) (*ExecutionResult, error) {
	return s.do(ctx, "run_script", func(ctx context.Context, stdout, stderr io.Writer) (int, int, error) {
		s.logger.Debug("running script", "mode", mode.String(), "script", sanitizeScriptForLogging(script))
		code, err := s.runner.Run(ctx, s.job(script, params, mode), stdout, stderr)
		return code, s.runner.Commands(), err
	})
}

// RunScriptCollectingVariables runs script in the default framing mode and
// returns the final values of the environment variables in names. A name the
// script left unset or empty has no entry in the map. Values of secretNames
// are masked in logs but returned as is. Variables are read only
// after a successful run; the side file is always removed.
func (s *Session) RunScriptCollectingVariables(ctx context.Context, script string, names, secretNames []string) (*ExecutionResult, map[string]string, error) {
	secret := make(map[string]bool, len(secretNames))
	for _, n := range secretNames {
		secret[n] = true
	}
	vars := make(map[string]string)

	result, err := s.do(ctx, "run_script", func(ctx context.Context, stdout, stderr io.Writer) (int, int, error) {
		path := powershell.VariablesPath(s.cfg.WorkingDirectory, s.cfg.ExecutionID)
		job := s.job(s.collector.Prepare(script, path, names), nil, s.cfg.defaultMode())
		s.collector.commands = 0

		s.logger.Debug("running script", "mode", job.Mode.String(), "variables", names, "script", sanitizeScriptForLogging(script))
		code, err := s.runner.Run(ctx, job, stdout, stderr)
		if err == nil && len(names) > 0 {
			vars = s.collector.Collect(ctx, path, names, secret, job.Invocation)
		}
		if len(names) > 0 {
			s.collector.Remove(ctx, path, job.Invocation)
		}
		return code, s.runner.Commands() + s.collector.commands, err
	})
	return result, vars, err
}

// CopyFile writes content to destDir\destName, replacing any existing file.
// destDir is created if missing.
func (s *Session) CopyFile(ctx context.Context, destDir, destName string, content []byte, opts ...CopyOption) (*ExecutionResult, error) {
	if err := validatePaths(destDir, destName); err != nil {
		return nil, s.newError(KindTransfer, err)
	}
	o := copyOptions{chunkSize: s.cfg.ChunkSize}
	for _, opt := range opts {
		opt(&o)
	}
	path := powershell.JoinPath(destDir, destName)

	return s.do(ctx, "copy_file", func(ctx context.Context, stdout, stderr io.Writer) (int, int, error) {
		f := s.transferer
		f.commands = 0
		chunkSize := f.chunkSize
		f.chunkSize = o.chunkSize
		defer func() { f.chunkSize = chunkSize }()

		s.security.LogFileTransfer(SubtypeTransferStart, OutcomeAttempt, SeverityInfo, map[string]any{
			"path":  path,
			"bytes": len(content),
		})

		code, err := f.exec(ctx, powershell.MakeDirectory(destDir, f.inv), stdout, stderr)
		if err == nil && code != 0 {
			err = fmt.Errorf("create directory %s exited with code %d", destDir, code)
		}
		if err != nil {
			err = f.clearError(err)
		} else {
			err = f.Transfer(ctx, path, content, o.progress, stdout, stderr)
		}

		if err != nil {
			s.security.LogFileTransfer(SubtypeTransferFailed, OutcomeFailure, SeverityError, map[string]any{
				"path":  path,
				"error": err.Error(),
			})
			return -1, f.commands, err
		}
		s.security.LogFileTransfer(SubtypeTransferDone, OutcomeSuccess, SeverityInfo, map[string]any{
			"path":  path,
			"bytes": len(content),
		})
		return 0, f.commands, nil
	})
}

// job builds the Job for script with per-run parameters.
func (s *Session) job(script string, params []powershell.Parameter, mode powershell.Mode) Job {
	inv := s.cfg.invocation()
	if len(params) > 0 {
		inv.Parameters = append(slices.Clone(inv.Parameters), params...)
	}
	return Job{
		Script:      script,
		Mode:        mode,
		Invocation:  inv,
		ScratchPath: powershell.ScratchPath(s.cfg.WorkingDirectory, s.cfg.ExecutionID),
	}
}

// operation runs on the session transport and returns the exit code and the
// number of commands sent.
type operation func(ctx context.Context, stdout, stderr io.Writer) (int, int, error)

// do serializes op, applies the session timeout, and assembles the result.
func (s *Session) do(ctx context.Context, name string, op operation) (*ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, s.newError(KindInterrupted, ErrSessionClosed)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	stdout := newBoundedWriter(s.cfg.MaxOutputBytes)
	stderr := newBoundedWriter(s.cfg.MaxOutputBytes)
	stdoutLog := newLineLogWriter(s.logger, "stdout")
	stderrLog := newLineLogWriter(s.logger, "stderr")
	defer stdoutLog.Close()
	defer stderrLog.Close()

	s.security.LogCommand(SubtypeCommandExecute, OutcomeAttempt, SeverityInfo, map[string]any{"operation": name})

	start := s.clock.Now()
	code, commands, err := op(ctx, io.MultiWriter(stdout, stdoutLog), io.MultiWriter(stderr, stderrLog))
	elapsed := s.clock.Now().Sub(start)
	err = s.wrapError(err)

	result := &ExecutionResult{
		ExitCode:     code,
		Stdout:       string(stdout.Bytes()),
		Stderr:       powershell.DecodeCLIXML(stderr.Bytes()),
		ExecutionID:  s.cfg.ExecutionID,
		Elapsed:      elapsed,
		CommandCount: commands,
		Truncated:    stdout.Truncated() || stderr.Truncated(),
	}

	s.metrics.observeOperation(name, elapsed, err)
	if err != nil {
		s.security.LogCommand(SubtypeCommandFailed, OutcomeFailure, SeverityWarning, map[string]any{
			"operation": name,
			"exit_code": code,
			"kind":      KindOf(err).String(),
		})
		s.logger.Error("operation failed", "operation", name, "elapsed", elapsed, "error", err)
		return result, err
	}
	s.security.LogCommand(SubtypeCommandComplete, OutcomeSuccess, SeverityInfo, map[string]any{
		"operation": name,
		"commands":  commands,
	})
	s.logger.Info("operation complete", "operation", name, "elapsed", elapsed, "commands", commands)
	return result, nil
}

// Close closes the transport. It is safe to call more than once; later calls
// return the first result. Close waits for an in-flight operation.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true

		if err := s.transport.Close(ctx); err != nil {
			s.closeErr = s.wrapError(err)
			s.logger.Warn("failed to close transport", "error", err)
		}
		s.security.LogConnection(SubtypeConnClosed, OutcomeSuccess, SeverityInfo, nil)
		s.security.LogSession(SubtypeSessionClosed, OutcomeSuccess, SeverityInfo, nil)
	})
	return s.closeErr
}
