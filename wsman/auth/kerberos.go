package auth

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/go-krb5/krb5/client"
	"github.com/go-krb5/krb5/config"
	"github.com/go-krb5/krb5/credentials"
	"github.com/go-krb5/krb5/keytab"
	"github.com/go-krb5/krb5/spnego"
)

type contextKey string

// ContextKeyIsHTTPS is set on the Step context to report whether the
// request travels over TLS.
const ContextKeyIsHTTPS = contextKey("isHTTPS")

// DefaultKrb5ConfPath is used when neither the config nor KRB5_CONFIG name one.
const DefaultKrb5ConfPath = "/etc/krb5.conf"

// KerberosProviderConfig holds the configuration for a Kerberos provider.
type KerberosProviderConfig struct {
	// TargetSPN is the Service Principal Name (e.g., "HTTP/server.domain.com").
	TargetSPN string

	// Realm is the Kerberos realm (e.g., "DOMAIN.COM").
	Realm string

	// Krb5ConfPath is the path to krb5.conf (default: $KRB5_CONFIG or /etc/krb5.conf).
	Krb5ConfPath string

	// KeytabPath is the path to a keytab file (optional).
	KeytabPath string

	// CCachePath is the path to a credential cache (optional).
	CCachePath string

	// Credentials are username/password credentials (optional).
	Credentials *Credentials
}

// PureKerberosProvider implements SecurityProvider with the pure Go krb5 library.
//
// Message-level encryption is not implemented, so the WinRM listener must be
// HTTPS or allow unencrypted traffic.
type PureKerberosProvider struct {
	mu         sync.Mutex
	client     *client.Client
	targetSPN  string
	isComplete bool
}

// NewKerberosProvider creates a Kerberos SecurityProvider from cfg.
// Credentials are tried in order: keytab, credential cache, password.
func NewKerberosProvider(cfg KerberosProviderConfig) (*PureKerberosProvider, error) {
	confPath := Krb5ConfPath(cfg.Krb5ConfPath)
	conf, err := config.Load(confPath)
	if err != nil {
		return nil, fmt.Errorf("load krb5.conf from %s: %w", confPath, err)
	}

	var cl *client.Client
	switch {
	case cfg.KeytabPath != "":
		if cfg.Credentials == nil || cfg.Credentials.Username == "" {
			return nil, fmt.Errorf("keytab authentication requires a username")
		}
		kt, err := keytab.Load(cfg.KeytabPath)
		if err != nil {
			return nil, fmt.Errorf("load keytab from %s: %w", cfg.KeytabPath, err)
		}
		cl = client.NewWithKeytab(cfg.Credentials.Username, cfg.Realm, kt, conf, client.DisablePAFXFAST(true))
	case cfg.CCachePath != "":
		cc, err := credentials.LoadCCache(cfg.CCachePath)
		if err != nil {
			return nil, fmt.Errorf("load ccache from %s: %w", cfg.CCachePath, err)
		}
		cl, err = client.NewFromCCache(cc, conf, client.DisablePAFXFAST(true))
		if err != nil {
			return nil, fmt.Errorf("create client from ccache: %w", err)
		}
	case cfg.Credentials != nil && cfg.Credentials.Password != "":
		cl = client.NewWithPassword(
			cfg.Credentials.Username,
			cfg.Realm,
			cfg.Credentials.Password,
			conf,
			client.DisablePAFXFAST(true),
		)
	default:
		return nil, fmt.Errorf("no credentials provided (keytab, ccache, or password required)")
	}

	return &PureKerberosProvider{
		client:    cl,
		targetSPN: cfg.TargetSPN,
	}, nil
}

// Krb5ConfPath resolves the krb5.conf location.
func Krb5ConfPath(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv("KRB5_CONFIG"); env != "" {
		return env
	}
	return DefaultKrb5ConfPath
}

// Step performs a GSS-API/SPNEGO step.
func (p *PureKerberosProvider) Step(_ context.Context, inputToken []byte) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(inputToken) > 0 {
		// Mutual authentication tokens are accepted as-is.
		if !p.isComplete {
			return nil, false, fmt.Errorf("received server token before client authentication completed")
		}
		return nil, false, nil
	}

	if err := p.client.Login(); err != nil {
		return nil, false, fmt.Errorf("kerberos login: %w", err)
	}

	tkn, err := spnego.SPNEGOClient(p.client, p.targetSPN).InitSecContext()
	if err != nil {
		return nil, false, fmt.Errorf("init security context for %s: %w", p.targetSPN, err)
	}
	token, err := tkn.Marshal()
	if err != nil {
		return nil, false, fmt.Errorf("marshal token: %w", err)
	}

	p.isComplete = true
	return token, false, nil
}

// Complete returns true if the context is established.
func (p *PureKerberosProvider) Complete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isComplete
}

// Reset discards the established context so the next Step builds a new
// AP-REQ. The TGT is kept.
func (p *PureKerberosProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.isComplete = false
}

// Close releases resources.
func (p *PureKerberosProvider) Close() error {
	p.client.Destroy()
	return nil
}
