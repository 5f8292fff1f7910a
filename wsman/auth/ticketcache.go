package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-krb5/krb5/credentials"

	"github.com/smnsjas/go-winexec/internal/subprocess"
)

// CacheEnvVar is the environment variable Kerberos tools read the credential
// cache location from.
const CacheEnvVar = "KRB5CCNAME"

// DefaultCacheNamespace prefixes unique cache file names.
const DefaultCacheNamespace = "winexec_krb5cc"

// ErrNoTicket is returned by Verify when the cache holds no usable TGT.
var ErrNoTicket = errors.New("kerberos: no valid ticket in credential cache")

// TicketCacheConfig configures a TicketCache.
type TicketCacheConfig struct {
	// Unique allocates a cache file owned by this cache instead of the
	// system default. Sessions sharing the default cache also share tickets.
	Unique bool

	// Dir holds unique cache files (default os.TempDir()).
	Dir string

	// Namespace and ID form the unique file name <Dir>/<Namespace>_<ID>.
	Namespace string
	ID        string

	// Credentials supply the principal and, optionally, the password.
	Credentials Credentials

	// KeytabPath is used instead of the password when set.
	KeytabPath string

	// Krb5ConfPath is exported as KRB5_CONFIG to kinit when set.
	Krb5ConfPath string

	// KinitPath is the kinit binary (default "kinit").
	KinitPath string

	// Runner runs kinit (default subprocess.Exec).
	Runner subprocess.Runner

	Logger *slog.Logger
}

// TicketCache is a Kerberos credential cache populated with kinit and shared
// with helper subprocesses through KRB5CCNAME.
type TicketCache struct {
	cfg    TicketCacheConfig
	path   string
	owned  bool
	logger *slog.Logger
}

// NewTicketCache resolves the cache location. Nothing is written until Obtain.
func NewTicketCache(cfg TicketCacheConfig) *TicketCache {
	if cfg.KinitPath == "" {
		cfg.KinitPath = "kinit"
	}
	if cfg.Runner == nil {
		cfg.Runner = subprocess.Exec{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	tc := &TicketCache{cfg: cfg, logger: logger}
	if cfg.Unique {
		dir := cfg.Dir
		if dir == "" {
			dir = os.TempDir()
		}
		ns := cfg.Namespace
		if ns == "" {
			ns = DefaultCacheNamespace
		}
		tc.path = filepath.Join(dir, ns+"_"+cfg.ID)
		tc.owned = true
	} else if env := os.Getenv(CacheEnvVar); env != "" {
		tc.path = strings.TrimPrefix(env, "FILE:")
	}
	return tc
}

// Path returns the cache file path, or "" when the library default is used.
func (tc *TicketCache) Path() string {
	return tc.path
}

// Owned reports whether the cache file belongs to this instance and is
// deleted by Remove.
func (tc *TicketCache) Owned() bool {
	return tc.owned
}

// Env returns the environment entries a subprocess needs to find the cache.
func (tc *TicketCache) Env() []string {
	var env []string
	if tc.path != "" {
		env = append(env, CacheEnvVar+"=FILE:"+tc.path)
	}
	if tc.cfg.Krb5ConfPath != "" {
		env = append(env, "KRB5_CONFIG="+tc.cfg.Krb5ConfPath)
	}
	return env
}

// CanObtain reports whether a password or keytab is available to request a
// ticket. Without one the cache must already hold a ticket.
func (tc *TicketCache) CanObtain() bool {
	return tc.cfg.KeytabPath != "" || tc.cfg.Credentials.Password != ""
}

// Obtain requests a TGT with kinit and stores it in the cache.
func (tc *TicketCache) Obtain(ctx context.Context) error {
	principal := tc.cfg.Credentials.Principal()
	if principal == "" {
		return fmt.Errorf("kerberos: principal is required to obtain a ticket")
	}

	cmd := subprocess.Command{
		Path: tc.cfg.KinitPath,
		Env:  tc.Env(),
	}
	switch {
	case tc.cfg.KeytabPath != "":
		cmd.Args = []string{"-kt", tc.cfg.KeytabPath, principal}
	case tc.cfg.Credentials.Password != "":
		cmd.Args = []string{principal}
		cmd.Stdin = strings.NewReader(tc.cfg.Credentials.Password + "\n")
	default:
		return fmt.Errorf("kerberos: password or keytab required to obtain a ticket for %s", principal)
	}
	if tc.path != "" {
		cmd.Args = append([]string{"-c", "FILE:" + tc.path}, cmd.Args...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	code, err := tc.cfg.Runner.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("kerberos: run %s: %w", tc.cfg.KinitPath, err)
	}
	if code != 0 {
		return fmt.Errorf("kerberos: %s for %s exited with code %d: %s",
			tc.cfg.KinitPath, principal, code, strings.TrimSpace(stderr.String()))
	}

	tc.logger.Debug("kerberos ticket obtained",
		"principal", principal,
		"cache", tc.path,
		"duration", time.Since(start))
	return nil
}

// Verify checks that the cache file holds a ticket that has not expired.
// It is a no-op when the library default cache is in use.
func (tc *TicketCache) Verify(now time.Time) error {
	if tc.path == "" {
		return nil
	}
	cc, err := credentials.LoadCCache(tc.path)
	if err != nil {
		return fmt.Errorf("%w: load %s: %w", ErrNoTicket, tc.path, err)
	}
	for _, cred := range cc.GetEntries() {
		if cred.EndTime.After(now) {
			return nil
		}
	}
	return fmt.Errorf("%w: all tickets in %s have expired", ErrNoTicket, tc.path)
}

// Remove deletes an owned cache file. Shared caches are left alone.
func (tc *TicketCache) Remove() error {
	if !tc.owned {
		return nil
	}
	if err := os.Remove(tc.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("kerberos: remove cache %s: %w", tc.path, err)
	}
	return nil
}
