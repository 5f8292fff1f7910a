package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smnsjas/go-winexec/powershell"
)

// PasswordEnvVar supplies the password when the profile leaves it empty.
const PasswordEnvVar = "WINEXEC_PASSWORD"

// Default values applied by DefaultSessionConfig and Connect.
const (
	DefaultHTTPPort       = 5985
	DefaultHTTPSPort      = 5986
	DefaultTimeout        = 30 * time.Minute
	DefaultMaxOutputBytes = 1 << 20
)

// AuthScheme specifies the authentication mechanism.
type AuthScheme string

const (
	// AuthBasic uses HTTP Basic authentication.
	AuthBasic AuthScheme = "basic"
	// AuthNTLM uses NTLM authentication.
	AuthNTLM AuthScheme = "ntlm"
	// AuthKerberos uses Kerberos, over SOAP or through a helper process.
	AuthKerberos AuthScheme = "kerberos"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AuthScheme) UnmarshalText(text []byte) error {
	switch s := AuthScheme(strings.ToLower(strings.TrimSpace(string(text)))); s {
	case AuthBasic, AuthNTLM, AuthKerberos:
		*a = s
		return nil
	case "":
		*a = AuthBasic
		return nil
	default:
		return fmt.Errorf("unknown auth scheme %q", string(text))
	}
}

// SessionConfig holds the connection and execution parameters of a Session.
// It is copied by Connect and never modified afterwards.
type SessionConfig struct {
	// Hostname is the Windows host to connect to.
	Hostname string `yaml:"hostname"`

	// Port is the WinRM port (default: 5985 for HTTP, 5986 for HTTPS).
	Port int `yaml:"port"`

	// UseTLS enables HTTPS transport.
	UseTLS bool `yaml:"use_tls"`

	// SkipCertValidation skips TLS certificate verification.
	// WARNING: Only use for testing.
	SkipCertValidation bool `yaml:"skip_cert_validation"`

	Domain   string `yaml:"domain"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// KeytabPath authenticates Kerberos without a password.
	KeytabPath string `yaml:"keytab_path"`

	AuthScheme AuthScheme `yaml:"auth_scheme"`

	// WorkingDirectory is the shell's working directory and the root for
	// scratch files. It must be absolute. Empty means %TEMP%.
	WorkingDirectory string `yaml:"working_directory"`

	// Environment is set in the remote shell.
	Environment map[string]string `yaml:"environment"`

	// Timeout bounds each script run or file copy.
	Timeout time.Duration `yaml:"timeout"`

	// OperationTimeout is the WSMan timeout of a single receive. A command
	// that writes nothing for this long fails unless ReceiveTimeoutRetries
	// allows another poll. Zero means Timeout.
	OperationTimeout time.Duration `yaml:"operation_timeout"`

	// ReceiveTimeoutRetries polls again after a receive times out. Zero,
	// the default, fails the command instead.
	ReceiveTimeoutRetries int `yaml:"receive_timeout_retries"`

	// NoProfile starts the shell and powershell.exe without a user profile.
	NoProfile bool `yaml:"no_profile"`

	// UniqueKerberosCache gives the session its own ticket cache instead of
	// sharing the system default.
	UniqueKerberosCache bool `yaml:"unique_kerberos_cache"`

	// CommandParameters are passed to every powershell.exe invocation.
	CommandParameters []powershell.Parameter `yaml:"command_parameters"`

	// DisableEncoding makes ModeUnencoded the default framing and sends
	// file chunks as escaped text.
	DisableEncoding bool `yaml:"disable_encoding"`

	// ExecutionID names scratch files and the unique ticket cache.
	// A random one is generated when empty.
	ExecutionID string `yaml:"execution_id"`

	// KerberosHelperPath selects the subprocess Kerberos transport. When
	// empty, Kerberos is negotiated over SOAP.
	KerberosHelperPath string `yaml:"kerberos_helper_path"`

	// KerberosTicketDir holds unique ticket caches (default os.TempDir()).
	KerberosTicketDir string `yaml:"kerberos_ticket_dir"`

	Krb5ConfPath string `yaml:"krb5_conf_path"`
	Realm        string `yaml:"realm"`

	// SPN overrides the target service principal (default HTTP/<hostname>).
	SPN string `yaml:"spn"`

	// CodePage sets the shell console codepage, e.g. 65001.
	CodePage int `yaml:"code_page"`

	// ChunkSize is the file transfer chunk size in bytes.
	ChunkSize int `yaml:"chunk_size"`

	// MaxOutputBytes caps the stdout and stderr kept per run.
	MaxOutputBytes int `yaml:"max_output_bytes"`
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Port:           DefaultHTTPPort,
		Timeout:        DefaultTimeout,
		AuthScheme:     AuthBasic,
		ChunkSize:      powershell.DefaultChunkSize,
		MaxOutputBytes: DefaultMaxOutputBytes,
	}
}

// withDefaults fills unset fields. A port left at the HTTP default while TLS
// is on moves to the HTTPS default.
func (c SessionConfig) withDefaults() SessionConfig {
	if c.Port == 0 || (c.UseTLS && c.Port == DefaultHTTPPort) {
		c.Port = DefaultHTTPPort
		if c.UseTLS {
			c.Port = DefaultHTTPSPort
		}
	}
	if c.AuthScheme == "" {
		c.AuthScheme = AuthBasic
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = c.Timeout
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = powershell.DefaultChunkSize
	}
	if c.MaxOutputBytes == 0 {
		c.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return c
}

var absWindowsPath = regexp.MustCompile(`^([A-Za-z]:[\\/]|\\\\[^\\]+\\)`)

// isAbsWindowsPath reports whether p is a drive-rooted or UNC path.
func isAbsWindowsPath(p string) bool {
	return absWindowsPath.MatchString(p)
}

// hasTraversal reports whether p contains a ".." element.
func hasTraversal(p string) bool {
	for _, elem := range strings.FieldsFunc(p, func(r rune) bool { return r == '\\' || r == '/' }) {
		if elem == ".." {
			return true
		}
	}
	return false
}

// Validate checks that the configuration is valid.
func (c *SessionConfig) Validate() error {
	var errs []error

	if c.Hostname == "" {
		errs = append(errs, errors.New("hostname is required"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}

	switch c.AuthScheme {
	case AuthBasic, AuthNTLM, "":
		if c.Password == "" {
			errs = append(errs, fmt.Errorf("password is required for %s authentication", c.scheme()))
		}
		if c.KeytabPath != "" {
			errs = append(errs, errors.New("keytab_path is only valid with kerberos authentication"))
		}
	case AuthKerberos:
		// Neither password nor keytab means a ticket was obtained beforehand.
	default:
		errs = append(errs, fmt.Errorf("unknown auth scheme %q", c.AuthScheme))
	}

	if c.WorkingDirectory != "" {
		if !isAbsWindowsPath(c.WorkingDirectory) {
			errs = append(errs, fmt.Errorf("working_directory must be absolute (e.g., C:\\path): %s", c.WorkingDirectory))
		} else if hasTraversal(c.WorkingDirectory) {
			errs = append(errs, fmt.Errorf("working_directory contains invalid traversal: %s", c.WorkingDirectory))
		}
	}

	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	if c.OperationTimeout < 0 {
		errs = append(errs, errors.New("operation_timeout must not be negative"))
	}
	if c.ReceiveTimeoutRetries < 0 {
		errs = append(errs, errors.New("receive_timeout_retries must not be negative"))
	}
	if c.ChunkSize < 0 {
		errs = append(errs, errors.New("chunk_size must not be negative"))
	}
	if c.MaxOutputBytes < 0 {
		errs = append(errs, errors.New("max_output_bytes must not be negative"))
	}
	for _, p := range c.CommandParameters {
		if p.Name == "" {
			errs = append(errs, errors.New("command parameter name must not be empty"))
			break
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid session config: %w", err)
	}
	return nil
}

func (c *SessionConfig) scheme() AuthScheme {
	if c.AuthScheme == "" {
		return AuthBasic
	}
	return c.AuthScheme
}

// Endpoint returns the WinRM endpoint URL.
func (c *SessionConfig) Endpoint() string {
	scheme := "http"
	if c.UseTLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/wsman", scheme, net.JoinHostPort(c.Hostname, strconv.Itoa(c.Port)))
}

// usesHelper reports whether commands go through the Kerberos helper process.
func (c *SessionConfig) usesHelper() bool {
	return c.AuthScheme == AuthKerberos && c.KerberosHelperPath != ""
}

// invocation returns the powershell.exe invocation for framed commands.
func (c *SessionConfig) invocation() powershell.Invocation {
	return powershell.Invocation{
		NoProfile:  c.NoProfile,
		Parameters: c.CommandParameters,
	}
}

// defaultMode is the framing used when a caller does not pick one.
func (c *SessionConfig) defaultMode() powershell.Mode {
	if c.DisableEncoding {
		return powershell.ModeUnencoded
	}
	return powershell.ModeEncoded
}

// LogValue implements slog.LogValuer so the password never reaches a log.
func (c SessionConfig) LogValue() slog.Value {
	password := ""
	if c.Password != "" {
		password = "[REDACTED]"
	}
	return slog.GroupValue(
		slog.String("hostname", c.Hostname),
		slog.Int("port", c.Port),
		slog.Bool("use_tls", c.UseTLS),
		slog.String("username", c.Username),
		slog.String("domain", c.Domain),
		slog.String("password", password),
		slog.String("scheme", string(c.scheme())),
		slog.String("working_directory", c.WorkingDirectory),
		slog.Duration("timeout", c.Timeout),
		slog.Bool("helper", c.KerberosHelperPath != ""),
	)
}

// LoadSessionConfig reads a YAML profile over DefaultSessionConfig. Unknown
// keys are rejected. An empty password is taken from WINEXEC_PASSWORD.
// The result is not validated.
func LoadSessionConfig(path string) (SessionConfig, error) {
	cfg := DefaultSessionConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read profile: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse profile %s: %w", path, err)
	}

	if cfg.Password == "" {
		cfg.Password = os.Getenv(PasswordEnvVar)
	}
	return cfg, nil
}
