package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/smnsjas/go-winexec/internal/subprocess"
	"github.com/smnsjas/go-winexec/powershell"
	"github.com/smnsjas/go-winexec/wsman/auth"
)

// probeCommand must exit 0 for a helper-mode connection to be usable.
const probeCommand = "echo winexec"

// SubprocessKerberosTransport runs every command through an external
// Kerberos-capable WinRM helper. The helper reads the command line from a
// file and the shell environment from another, and finds its tickets through
// KRB5CCNAME:
//
//	<helper> -e <endpoint> -u <user> -s <command file> -env <env file> [-w <dir>] -t <seconds>
//
// Its exit code is the remote command's exit code.
type SubprocessKerberosTransport struct {
	helper   string
	endpoint string
	user     string
	workDir  string
	timeout  int
	env      map[string]string
	localDir string

	cache  *auth.TicketCache
	runner subprocess.Runner
	logger *slog.Logger
}

var _ Transport = (*SubprocessKerberosTransport)(nil)

// newSubprocessKerberosTransport prepares the ticket cache, obtains a ticket
// when a password or keytab is configured, and probes the host.
func newSubprocessKerberosTransport(ctx context.Context, cfg *SessionConfig, runner subprocess.Runner, logger *slog.Logger) (*SubprocessKerberosTransport, error) {
	if runner == nil {
		runner = subprocess.Exec{}
	}

	cache := auth.NewTicketCache(auth.TicketCacheConfig{
		Unique: cfg.UniqueKerberosCache,
		Dir:    cfg.KerberosTicketDir,
		ID:     cfg.ExecutionID,
		Credentials: auth.Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
			Domain:   cfg.Domain,
		},
		KeytabPath:   cfg.KeytabPath,
		Krb5ConfPath: cfg.Krb5ConfPath,
		Runner:       runner,
		Logger:       logger,
	})
	if !cache.Owned() {
		logger.Debug("using shared kerberos ticket cache", "path", cache.Path())
	}

	t := &SubprocessKerberosTransport{
		helper:   cfg.KerberosHelperPath,
		endpoint: cfg.Endpoint(),
		user:     qualifiedUser(cfg),
		workDir:  cfg.WorkingDirectory,
		timeout:  int(cfg.Timeout.Seconds()),
		env:      cfg.Environment,
		localDir: cfg.KerberosTicketDir,
		cache:    cache,
		runner:   runner,
		logger:   logger,
	}

	if cache.CanObtain() {
		if err := cache.Obtain(ctx); err != nil {
			t.removeCache()
			return nil, fmt.Errorf("obtain kerberos ticket: %w", err)
		}
	} else if err := cache.Verify(time.Now()); err != nil {
		t.removeCache()
		return nil, err
	}

	var stderr strings.Builder
	code, err := t.Execute(ctx, probeCommand, io.Discard, &stderr)
	if err == nil && code != 0 {
		err = fmt.Errorf("probe exited with code %d: %s", code, strings.TrimSpace(stderr.String()))
	}
	if err != nil {
		t.removeCache()
		return nil, fmt.Errorf("kerberos helper probe: %w", err)
	}
	return t, nil
}

// qualifiedUser returns user@DOMAIN unless the username is already qualified.
func qualifiedUser(cfg *SessionConfig) string {
	if cfg.Domain == "" || strings.ContainsAny(cfg.Username, `@\`) {
		return cfg.Username
	}
	return cfg.Username + "@" + strings.ToUpper(cfg.Domain)
}

// Execute implements Transport.
func (t *SubprocessKerberosTransport) Execute(ctx context.Context, command string, stdout, stderr io.Writer) (int, error) {
	cmdFile, err := t.writeTemp("winexec-cmd-*.txt", command)
	if err != nil {
		return -1, err
	}
	defer t.removeLocal(cmdFile)

	envFile, err := t.writeTemp("winexec-env-*.txt", formatEnv(t.env))
	if err != nil {
		return -1, err
	}
	defer t.removeLocal(envFile)

	args := []string{"-e", t.endpoint, "-u", t.user, "-s", cmdFile, "-env", envFile}
	if t.workDir != "" {
		args = append(args, "-w", t.workDir)
	}
	args = append(args, "-t", strconv.Itoa(t.timeout))

	code, err := t.runner.Run(ctx, subprocess.Command{
		Path:   t.helper,
		Args:   args,
		Env:    t.cache.Env(),
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		return code, fmt.Errorf("kerberos helper: %w", err)
	}
	return code, nil
}

// ExecuteBatch implements Transport. The batch is sent as one compound
// command that stops at the first failure.
func (t *SubprocessKerberosTransport) ExecuteBatch(ctx context.Context, commands []string, stdout, stderr io.Writer) (int, error) {
	if len(commands) == 0 {
		return 0, nil
	}
	return t.Execute(ctx, powershell.JoinCompound(commands), stdout, stderr)
}

// Close deletes an owned ticket cache. Removal failures are logged only.
func (t *SubprocessKerberosTransport) Close(context.Context) error {
	t.removeCache()
	return nil
}

func (t *SubprocessKerberosTransport) removeCache() {
	if err := t.cache.Remove(); err != nil {
		t.logger.Warn("failed to remove kerberos ticket cache", "path", t.cache.Path(), "error", err)
	}
}

func (t *SubprocessKerberosTransport) writeTemp(pattern, content string) (string, error) {
	f, err := os.CreateTemp(t.localDir, pattern)
	if err != nil {
		return "", fmt.Errorf("create helper input: %w", err)
	}
	_, werr := f.WriteString(content)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		t.removeLocal(f.Name())
		return "", fmt.Errorf("write helper input: %w", err)
	}
	return f.Name(), nil
}

func (t *SubprocessKerberosTransport) removeLocal(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.logger.Warn("failed to remove helper input", "path", path, "error", err)
	}
}

// formatEnv renders env as sorted KEY=VALUE lines.
func formatEnv(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(env[k])
		b.WriteByte('\n')
	}
	return b.String()
}
