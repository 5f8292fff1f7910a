package auth

import (
	"net/http"
	"testing"
)

func TestNTLMAuth_SetsQualifiedCredentials(t *testing.T) {
	tests := []struct {
		name     string
		creds    Credentials
		wantUser string
	}{
		{"domain", Credentials{Username: "user", Password: "pass", Domain: "domain"}, `domain\user`},
		{"no domain", Credentials{Username: "user", Password: "pass"}, "user"},
		{"already qualified", Credentials{Username: `corp\user`, Password: "pass", Domain: "domain"}, `corp\user`},
		{"upn", Credentials{Username: "user@corp.local", Password: "pass", Domain: "domain"}, "user@corp.local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockBase := &MockRoundTripper{
				RoundTripFunc: func(req *http.Request) (*http.Response, error) {
					u, p, ok := req.BasicAuth()
					if !ok {
						t.Fatal("Basic auth not set on request passed to negotiator")
					}
					if u != tt.wantUser {
						t.Errorf("Username = %s; want %s", u, tt.wantUser)
					}
					if p != "pass" {
						t.Errorf("Password = %s; want pass", p)
					}
					return &http.Response{StatusCode: 200}, nil
				},
			}

			// The negotiator is replaced with a recorder to observe what it receives.
			wrapper := &credentialsRoundTripper{creds: tt.creds, base: mockBase}

			req, _ := http.NewRequest("POST", "http://winhost:5985/wsman", nil)
			if _, err := wrapper.RoundTrip(req); err != nil {
				t.Fatalf("RoundTrip failed: %v", err)
			}
			if req.Header.Get("Authorization") != "" {
				t.Error("original request must not be mutated")
			}
		})
	}
}
