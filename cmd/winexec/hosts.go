package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/smnsjas/go-winexec/client"
	winlog "github.com/smnsjas/go-winexec/internal/log"
)

// environment is what every subcommand needs before it can connect.
type environment struct {
	base   client.SessionConfig
	hosts  []string
	logger *slog.Logger
	out    *printer

	closeLog func() error
}

// setup resolves the session configuration, the password and the logger.
func setup(cmd *cobra.Command) (*environment, error) {
	cfg := client.DefaultSessionConfig()
	if opts.profile != "" {
		loaded, err := client.LoadSessionConfig(opts.profile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg.Password = os.Getenv(client.PasswordEnvVar)
	}

	if err := applyFlags(&cfg, cmd.Flags().Changed); err != nil {
		return nil, err
	}

	hosts := opts.hosts
	if len(hosts) == 0 {
		if cfg.Hostname == "" {
			return nil, errors.New("no host given (use --host or a profile hostname)")
		}
		hosts = []string{cfg.Hostname}
	}

	if cfg.Password == "" && cfg.AuthScheme != client.AuthKerberos {
		password, err := readPassword(os.Stdin, os.Stderr)
		if err != nil {
			return nil, err
		}
		cfg.Password = password
	}

	env := &environment{
		base:     cfg,
		hosts:    hosts,
		out:      &printer{prefix: len(hosts) > 1},
		closeLog: func() error { return nil },
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	var w io.Writer = os.Stderr
	if opts.logFile != "" {
		f, err := winlog.NewRotatingFile(opts.logFile, winlog.DefaultRotationConfig())
		if err != nil {
			return nil, err
		}
		w = f
		env.closeLog = f.Close
	}
	env.logger = winlog.NewLogger(w, level, cfg.Password)
	return env, nil
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(cfg *client.SessionConfig, changed func(string) bool) error {
	if changed("port") {
		cfg.Port = opts.port
	}
	if changed("tls") {
		cfg.UseTLS = opts.useTLS
	}
	if changed("insecure") {
		cfg.SkipCertValidation = opts.insecure
	}
	if changed("user") {
		cfg.Username = opts.user
	}
	if changed("domain") {
		cfg.Domain = opts.domain
	}
	if changed("auth") || cfg.AuthScheme == "" {
		if err := cfg.AuthScheme.UnmarshalText([]byte(opts.auth)); err != nil {
			return fmt.Errorf("invalid --auth: %w", err)
		}
	}
	if changed("kerberos-helper") {
		cfg.KerberosHelperPath = opts.helper
	}
	if changed("workdir") {
		cfg.WorkingDirectory = opts.workDir
	}
	if changed("timeout") {
		cfg.Timeout = opts.timeout
	}
	if changed("no-profile") {
		cfg.NoProfile = opts.noProfile
	}
	return nil
}

// readPassword prompts on prompt and reads a password from in, without echo
// when in is a terminal.
func readPassword(in *os.File, prompt io.Writer) (string, error) {
	fmt.Fprint(prompt, "Password: ")

	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		pass, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pass), nil
	}

	// Not a terminal (piped input): read line
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// hostFunc runs one operation against a connected session.
type hostFunc func(ctx context.Context, host string, s *client.Session) error

// forEachHost connects to every host, at most --parallel at a time, and
// runs fn on each. A failing host does not stop the others; all failures
// are returned joined.
func (e *environment) forEachHost(ctx context.Context, fn hostFunc) error {
	errs := make([]error, len(e.hosts))

	var g errgroup.Group
	g.SetLimit(max(opts.parallel, 1))
	for i, host := range e.hosts {
		g.Go(func() error {
			errs[i] = e.runHost(ctx, host, fn)
			if errs[i] != nil {
				e.out.line(os.Stderr, host, "FAILED: "+errs[i].Error())
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (e *environment) runHost(ctx context.Context, host string, fn hostFunc) error {
	cfg := e.base
	cfg.Hostname = host
	cfg.ExecutionID = ""

	s, err := client.Connect(ctx, cfg, client.WithLogger(e.logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("close failed", "host", host, "error", err)
		}
	}()
	return fn(ctx, host, s)
}

// report prints the output of a result.
func (e *environment) report(host string, res *client.ExecutionResult) {
	if res == nil {
		return
	}
	e.out.text(os.Stdout, host, res.Stdout)
	e.out.text(os.Stderr, host, res.Stderr)
}

// printer writes whole blocks of host output so parallel hosts never
// interleave within a line. With prefix set every line starts with [host].
type printer struct {
	mu     sync.Mutex
	prefix bool
}

func (p *printer) text(w io.Writer, host, text string) {
	if text == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.prefix {
		fmt.Fprint(w, text)
		if !strings.HasSuffix(text, "\n") {
			fmt.Fprintln(w)
		}
		return
	}
	for _, line := range strings.Split(strings.TrimRight(text, "\r\n"), "\n") {
		fmt.Fprintf(w, "[%s] %s\n", host, strings.TrimRight(line, "\r"))
	}
}

func (p *printer) line(w io.Writer, host, line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(w, "[%s] %s\n", host, line)
}
