package auth

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCredentials_Principal(t *testing.T) {
	tests := []struct {
		creds Credentials
		want  string
	}{
		{Credentials{Username: "svc", Domain: "corp.local"}, "svc@CORP.LOCAL"},
		{Credentials{Username: "svc@CORP.LOCAL", Domain: "other"}, "svc@CORP.LOCAL"},
		{Credentials{Username: "svc"}, "svc"},
	}
	for _, tt := range tests {
		if got := tt.creds.Principal(); got != tt.want {
			t.Errorf("Principal(%+v) = %q, want %q", tt.creds, got, tt.want)
		}
	}
}

func TestCredentials_Validate(t *testing.T) {
	if err := (&Credentials{Username: "u"}).Validate(); err == nil {
		t.Error("Validate should require a password")
	}
	if err := (&Credentials{Username: "u"}).ValidateForKerberos(); err != nil {
		t.Errorf("ValidateForKerberos: %v", err)
	}
	if err := (&Credentials{}).ValidateForKerberos(); err == nil {
		t.Error("ValidateForKerberos should require a username")
	}
}

// TestBasicAuth_Name verifies the auth scheme name.
func TestBasicAuth_Name(t *testing.T) {
	auth := NewBasicAuth(Credentials{})
	if auth.Name() != "Basic" {
		t.Errorf("Name() = %q, want %q", auth.Name(), "Basic")
	}
}

// TestBasicAuth_Transport verifies the transport wrapper.
func TestBasicAuth_Transport(t *testing.T) {
	creds := Credentials{
		Username: "testuser",
		Password: "testpass",
	}
	auth := NewBasicAuth(creds)

	// Create a test server that checks auth header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			t.Error("missing Authorization header")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		if !strings.HasPrefix(authHeader, "Basic ") {
			t.Errorf("expected Basic auth, got: %s", authHeader)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		// Decode and verify credentials
		encoded := strings.TrimPrefix(authHeader, "Basic ")
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			t.Errorf("failed to decode auth header: %v", err)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		expected := "testuser:testpass"
		if string(decoded) != expected {
			t.Errorf("decoded credentials = %q, want %q", string(decoded), expected)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// Create client with auth transport
	client := &http.Client{
		Transport: auth.Transport(http.DefaultTransport),
	}

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

// TestNTLMAuth_Name verifies the auth scheme name.
func TestNTLMAuth_Name(t *testing.T) {
	auth := NewNTLMAuth(Credentials{})
	if auth.Name() != "NTLM" {
		t.Errorf("Name() = %q, want %q", auth.Name(), "NTLM")
	}
}

// TestNTLMAuth_Transport verifies NTLM transport is created.
func TestNTLMAuth_Transport(t *testing.T) {
	creds := Credentials{
		Username: "testuser",
		Password: "testpass",
		Domain:   "TESTDOMAIN",
	}
	auth := NewNTLMAuth(creds)

	transport := auth.Transport(http.DefaultTransport)
	if transport == nil {
		t.Error("Transport returned nil")
	}

	// Verify it's not the same as the base transport (it should be wrapped)
	if transport == http.DefaultTransport {
		t.Error("Transport should wrap the base transport")
	}
}

// TestAuthenticator_Interface verifies both auth types implement Authenticator.
func TestAuthenticator_Interface(_ *testing.T) {
	var _ Authenticator = NewBasicAuth(Credentials{})
	var _ Authenticator = NewNTLMAuth(Credentials{})
	var _ Authenticator = NewNegotiateAuth(&MockSecurityProvider{})
	var _ SecurityProvider = (*PureKerberosProvider)(nil)
}
