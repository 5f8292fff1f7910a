package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// ErrUnauthorized is returned when the server responds with 401 Unauthorized.
// Use errors.Is(err, ErrUnauthorized) to check for authentication failures.
var ErrUnauthorized = errors.New("transport: authentication failed (401 Unauthorized)")

// ErrForbidden is returned when the server responds with 403 Forbidden.
var ErrForbidden = errors.New("transport: access denied (403 Forbidden)")

const (
	// ContentTypeSOAP is the content type for SOAP 1.2 messages.
	ContentTypeSOAP = "application/soap+xml;charset=UTF-8"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultConnectRetries is the number of extra attempts made when the
	// connection to the endpoint cannot be established.
	DefaultConnectRetries = 1

	defaultBufferSize = 32 * 1024
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, defaultBufferSize))
	},
}

// readAllPooled reads from r using a pooled buffer and returns a copy of the data.
func readAllPooled(r io.Reader) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// HTTPTransport handles HTTP/HTTPS communication for WSMan.
//
// A request that fails before any bytes reach the server (dial refused,
// host unreachable, TLS handshake reset) is retried DefaultConnectRetries
// times. Anything that may have been delivered, including client timeouts,
// is returned to the caller as-is.
type HTTPTransport struct {
	client         *http.Client
	connectRetries int
	retryDelay     time.Duration
	logger         *slog.Logger
}

// HTTPTransportOption configures an HTTPTransport.
type HTTPTransportOption func(*HTTPTransport)

// NewHTTPTransport creates a new HTTP transport with the given options.
func NewHTTPTransport(opts ...HTTPTransportOption) *HTTPTransport {
	t := &HTTPTransport{
		client: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				// NTLM requires persistent connections for the handshake
				DisableKeepAlives:   false,
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		connectRetries: DefaultConnectRetries,
		retryDelay:     500 * time.Millisecond,
		logger:         slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.client.Timeout = d
	}
}

// WithInsecureSkipVerify configures TLS to skip certificate verification.
func WithInsecureSkipVerify(skip bool) HTTPTransportOption {
	return func(t *HTTPTransport) {
		transport := t.ensureHTTPTransport()
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}
		transport.TLSClientConfig.InsecureSkipVerify = skip
	}
}

// WithTLSConfig sets a custom TLS configuration.
// MinVersion is raised to TLS 1.2 if lower.
func WithTLSConfig(cfg *tls.Config) HTTPTransportOption {
	return func(t *HTTPTransport) {
		transport := t.ensureHTTPTransport()
		if cfg.MinVersion < tls.VersionTLS12 {
			cfg.MinVersion = tls.VersionTLS12
		}
		transport.TLSClientConfig = cfg
	}
}

// WithConnectRetries sets how many times a failed connection attempt is
// retried. Zero disables the retry.
func WithConnectRetries(n int, delay time.Duration) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if n < 0 {
			n = 0
		}
		t.connectRetries = n
		t.retryDelay = delay
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// ensureHTTPTransport ensures the client has an *http.Transport.
func (t *HTTPTransport) ensureHTTPTransport() *http.Transport {
	transport, ok := t.client.Transport.(*http.Transport)
	if !ok {
		transport = &http.Transport{}
		t.client.Transport = transport
	}
	return transport
}

// Post sends a SOAP request and returns the response body.
func (t *HTTPTransport) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	policy := retrypolicy.NewBuilder[[]byte]().
		WithMaxRetries(t.connectRetries).
		WithDelay(t.retryDelay).
		HandleIf(func(_ []byte, err error) bool {
			return IsConnectError(err)
		}).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[[]byte]) {
			t.logger.Warn("retrying wsman request after connection failure",
				"url", url,
				"attempt", e.Attempts(),
				"error", e.LastError())
		}).
		Build()

	return failsafe.With(policy).WithContext(ctx).Get(func() ([]byte, error) {
		return t.post(ctx, url, body)
	})
}

func (t *HTTPTransport) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", ContentTypeSOAP)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := readAllPooled(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return nil, ErrForbidden
	case resp.StatusCode >= 400 && !isSOAPFault(resp, respBody):
		bodyPreview := string(respBody)
		if len(bodyPreview) > 3000 {
			bodyPreview = bodyPreview[:3000] + "..."
		}
		return nil, fmt.Errorf("transport: HTTP %d: %s", resp.StatusCode, bodyPreview)
	}

	return respBody, nil
}

// isSOAPFault reports whether a 4xx/5xx response carries a SOAP fault that
// the wsman layer should parse instead of treating it as an HTTP error.
func isSOAPFault(resp *http.Response, body []byte) bool {
	if resp.StatusCode != http.StatusInternalServerError && resp.StatusCode != http.StatusBadRequest {
		return false
	}
	return bytes.Contains(body, []byte(":Fault"))
}

// IsConnectError reports whether err happened while establishing the
// connection, before the request could have been processed by the server.
func IsConnectError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return false
		}
		return opErr.Op == "dial"
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}

// Client returns the underlying HTTP client for advanced configuration.
func (t *HTTPTransport) Client() *http.Client {
	return t.client
}

// CloseIdleConnections closes any idle connections in the transport.
func (t *HTTPTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}
