package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/smnsjas/go-winexec/winrs"
	"github.com/smnsjas/go-winexec/wsman"
	"github.com/smnsjas/go-winexec/wsman/auth"
	"github.com/smnsjas/go-winexec/wsman/transport"
)

// Transport runs command lines on the remote host. A Session holds exactly
// one Transport, chosen when it connects.
//
// Implementations are not safe for concurrent use.
type Transport interface {
	// Execute runs one command line and streams its output into stdout and
	// stderr. A nonzero exit code is not an error.
	Execute(ctx context.Context, command string, stdout, stderr io.Writer) (int, error)

	// ExecuteBatch runs commands in order and stops at the first nonzero
	// exit code, which it returns.
	ExecuteBatch(ctx context.Context, commands []string, stdout, stderr io.Writer) (int, error)

	// Close releases the remote shell or local ticket cache.
	Close(ctx context.Context) error
}

// httpTimeoutGrace is added to the WSMan operation timeout so the server
// reports a receive timeout before the HTTP client gives up.
const httpTimeoutGrace = 30 * time.Second

// InteractiveShellTransport runs commands in one WinRS shell that is opened
// at connect and reused until Close.
type InteractiveShellTransport struct {
	http     *transport.HTTPTransport
	shell    *winrs.Shell
	provider io.Closer
	logger   *slog.Logger
}

var _ Transport = (*InteractiveShellTransport)(nil)

// newInteractiveShellTransport authenticates to the WinRM endpoint and opens
// the shell.
func newInteractiveShellTransport(ctx context.Context, cfg *SessionConfig, logger *slog.Logger) (*InteractiveShellTransport, error) {
	tr := transport.NewHTTPTransport(
		transport.WithTimeout(cfg.OperationTimeout+httpTimeoutGrace),
		transport.WithInsecureSkipVerify(cfg.SkipCertValidation),
		transport.WithConnectRetries(transport.DefaultConnectRetries, time.Second),
		transport.WithLogger(logger),
	)

	authenticator, provider, err := newAuthenticator(cfg)
	if err != nil {
		return nil, err
	}
	tr.Client().Transport = authenticator.Transport(tr.Client().Transport)

	t := &InteractiveShellTransport{
		http:     tr,
		provider: provider,
		logger:   logger,
	}

	ws := wsman.NewClient(cfg.Endpoint(), tr, wsman.WithOperationTimeout(cfg.OperationTimeout))
	shell, err := winrs.NewShell(ctx, ws,
		winrs.WithWorkingDirectory(cfg.WorkingDirectory),
		winrs.WithEnvironment(cfg.Environment),
		winrs.WithNoProfile(cfg.NoProfile),
		winrs.WithCodepage(cfg.CodePage),
		winrs.WithReceiveTimeoutRetries(cfg.ReceiveTimeoutRetries),
	)
	if err != nil {
		t.release()
		return nil, err
	}
	t.shell = shell

	logger.Debug("shell opened", "shell_id", shell.ID(), "scheme", authenticator.Name())
	return t, nil
}

// newAuthenticator returns the HTTP authenticator for cfg.AuthScheme and,
// for Kerberos, the provider that must be closed with the session.
func newAuthenticator(cfg *SessionConfig) (auth.Authenticator, io.Closer, error) {
	creds := auth.Credentials{
		Username: cfg.Username,
		Password: cfg.Password,
		Domain:   cfg.Domain,
	}

	switch cfg.AuthScheme {
	case AuthNTLM:
		return auth.NewNTLMAuth(creds), nil, nil
	case AuthKerberos:
		spn := cfg.SPN
		if spn == "" {
			spn = "HTTP/" + cfg.Hostname
		}
		realm := cfg.Realm
		if realm == "" {
			realm = strings.ToUpper(cfg.Domain)
		}
		provider, err := auth.NewKerberosProvider(auth.KerberosProviderConfig{
			TargetSPN:    spn,
			Realm:        realm,
			Krb5ConfPath: cfg.Krb5ConfPath,
			KeytabPath:   cfg.KeytabPath,
			Credentials:  &creds,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("kerberos provider: %w", err)
		}
		return auth.NewNegotiateAuth(provider), provider, nil
	default:
		return auth.NewBasicAuth(creds), nil, nil
	}
}

// Execute implements Transport.
func (t *InteractiveShellTransport) Execute(ctx context.Context, command string, stdout, stderr io.Writer) (int, error) {
	return t.shell.Run(ctx, command, stdout, stderr)
}

// ExecuteBatch implements Transport. Each command is a separate shell command.
func (t *InteractiveShellTransport) ExecuteBatch(ctx context.Context, commands []string, stdout, stderr io.Writer) (int, error) {
	for _, cmd := range commands {
		code, err := t.shell.Run(ctx, cmd, stdout, stderr)
		if err != nil || code != 0 {
			return code, err
		}
	}
	return 0, nil
}

// Close deletes the shell and drops pooled connections.
func (t *InteractiveShellTransport) Close(ctx context.Context) error {
	var err error
	if t.shell != nil {
		err = t.shell.Close(ctx)
	}
	t.release()
	return err
}

func (t *InteractiveShellTransport) release() {
	t.http.CloseIdleConnections()
	if t.provider != nil {
		if err := t.provider.Close(); err != nil {
			t.logger.Warn("failed to close kerberos provider", "error", err)
		}
		t.provider = nil
	}
}

