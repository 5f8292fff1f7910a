package auth

import (
	"net/http"

	"github.com/Azure/go-ntlmssp"
)

// NTLMAuth implements NTLM authentication.
type NTLMAuth struct {
	creds Credentials
}

// NewNTLMAuth creates a new NTLM authentication handler.
func NewNTLMAuth(creds Credentials) *NTLMAuth {
	return &NTLMAuth{creds: creds}
}

// Name returns the authentication scheme name.
func (a *NTLMAuth) Name() string {
	return "NTLM"
}

// Transport wraps an http.RoundTripper with NTLM authentication.
// ntlmssp.Negotiator reads the credentials from the request's basic auth
// header, so they are attached before it runs.
func (a *NTLMAuth) Transport(base http.RoundTripper) http.RoundTripper {
	return &credentialsRoundTripper{
		creds: a.creds,
		base:  ntlmssp.Negotiator{RoundTripper: base},
	}
}

type credentialsRoundTripper struct {
	creds Credentials
	base  http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *credentialsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	reqCopy := req.Clone(req.Context())
	reqCopy.SetBasicAuth(t.creds.qualifiedUser(), t.creds.Password)
	return t.base.RoundTrip(reqCopy)
}
