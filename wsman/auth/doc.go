// Package auth provides authentication handlers for WSMan connections.
//
// # Supported Authentication Methods
//
//   - Basic: HTTP Basic authentication (use only over TLS)
//   - NTLM: NT LAN Manager authentication (via github.com/Azure/go-ntlmssp)
//   - Negotiate: SPNEGO with the pure Go Kerberos provider (github.com/go-krb5/krb5)
//
// Kerberos credentials may be a password, a keytab file or an existing
// credential cache.
//
// # Ticket caches
//
// TicketCache obtains a TGT with kinit into either a session-owned file
// (<dir>/<namespace>_<id>) or the shared default cache, and exposes the
// KRB5CCNAME entry that helper subprocesses need. Sessions that share the
// default cache also share its tickets.
//
// # Usage
//
// NTLM authentication:
//
//	a := auth.NewNTLMAuth(auth.Credentials{
//	    Username: "administrator",
//	    Password: "password",
//	    Domain:   "DOMAIN",
//	})
//
// Kerberos authentication:
//
//	provider, _ := auth.NewKerberosProvider(auth.KerberosProviderConfig{
//	    TargetSPN:   "HTTP/server.domain.com",
//	    Realm:       "DOMAIN.COM",
//	    Credentials: &auth.Credentials{Username: "user", Password: "pass"},
//	})
//	a := auth.NewNegotiateAuth(provider)
package auth
