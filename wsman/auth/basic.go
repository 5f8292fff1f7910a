package auth

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"sync"
)

// BasicAuth implements HTTP Basic authentication.
type BasicAuth struct {
	creds Credentials
}

// NewBasicAuth creates a new Basic authentication handler.
func NewBasicAuth(creds Credentials) *BasicAuth {
	return &BasicAuth{creds: creds}
}

// Name returns the authentication scheme name.
func (a *BasicAuth) Name() string {
	return "Basic"
}

// Transport wraps an http.RoundTripper with Basic authentication.
func (a *BasicAuth) Transport(base http.RoundTripper) http.RoundTripper {
	return &basicTransport{
		base:  base,
		creds: a.creds,
	}
}

// basicTransport adds Basic auth header to requests.
type basicTransport struct {
	base     http.RoundTripper
	creds    Credentials
	warnOnce sync.Once
}

// RoundTrip implements http.RoundTripper.
func (t *basicTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Warn if using Basic auth over non-HTTPS (credentials are easily readable)
	if req.URL.Scheme != "https" {
		t.warnOnce.Do(func() {
			slog.Warn("basic authentication over non-HTTPS connection, credentials are not encrypted",
				"host", req.URL.Host)
		})
	}

	reqCopy := req.Clone(req.Context())
	encoded := base64.StdEncoding.EncodeToString([]byte(t.creds.qualifiedUser() + ":" + t.creds.Password))
	reqCopy.Header.Set("Authorization", "Basic "+encoded)

	return t.base.RoundTrip(reqCopy)
}
