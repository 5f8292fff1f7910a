package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxNegotiateRetries is the maximum number of authentication attempts.
// This prevents infinite loops from malicious servers.
const maxNegotiateRetries = 5

// ErrNegotiateRejected is returned when the server answers a completed
// security context with another 401.
var ErrNegotiateRejected = errors.New("negotiate: credentials rejected by server")

// NegotiateAuth implements SPNEGO authentication using a pluggable SecurityProvider.
type NegotiateAuth struct {
	provider SecurityProvider
}

// NewNegotiateAuth creates a new Negotiate authenticator.
func NewNegotiateAuth(provider SecurityProvider) *NegotiateAuth {
	return &NegotiateAuth{
		provider: provider,
	}
}

// Name returns the scheme name.
func (a *NegotiateAuth) Name() string {
	return "Negotiate"
}

// Transport wraps the base transport with Negotiate authentication logic.
func (a *NegotiateAuth) Transport(base http.RoundTripper) http.RoundTripper {
	return &negotiateRoundTripper{
		base:     base,
		provider: a.provider,
	}
}

// resetter is implemented by providers that can start a fresh security
// context after the connection that carried the old one was dropped.
type resetter interface {
	Reset()
}

type negotiateRoundTripper struct {
	base     http.RoundTripper
	provider SecurityProvider
}

func (rt *negotiateRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
	}

	ctx := context.WithValue(req.Context(), ContextKeyIsHTTPS, req.URL.Scheme == "https")

	var clientToken []byte
	if !rt.provider.Complete() {
		token, _, err := rt.provider.Step(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("negotiate step failed: %w", err)
		}
		clientToken = token
	}

	reset := false
	for attempt := 0; attempt < maxNegotiateRetries; attempt++ {
		reqClone := req.Clone(req.Context())
		reqClone.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		reqClone.ContentLength = int64(len(bodyBytes))
		if clientToken != nil {
			reqClone.Header.Set("Authorization", "Negotiate "+base64.StdEncoding.EncodeToString(clientToken))
		}

		resp, err := rt.base.RoundTrip(reqClone)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}

		authHeader := resp.Header.Get("WWW-Authenticate")
		if !strings.Contains(strings.ToLower(authHeader), "negotiate") {
			return resp, nil
		}
		_ = resp.Body.Close()

		var serverToken []byte
		if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 {
			// A bare "Negotiate" challenge carries no token.
			if token, decodeErr := base64.StdEncoding.DecodeString(strings.TrimSpace(parts[1])); decodeErr == nil {
				serverToken = token
			}
		}

		if len(serverToken) == 0 && rt.provider.Complete() {
			r, ok := rt.provider.(resetter)
			if !ok || reset {
				return nil, ErrNegotiateRejected
			}
			r.Reset()
			reset = true
		}

		clientToken, _, err = rt.provider.Step(ctx, serverToken)
		if err != nil {
			return nil, fmt.Errorf("negotiate step failed: %w", err)
		}
	}

	return nil, fmt.Errorf("negotiate authentication failed after %d attempts", maxNegotiateRetries)
}
