// Package transport provides the HTTP/TLS transport for WSMan communication.
//
// The transport layer handles:
//   - HTTP/HTTPS connections and TLS configuration
//   - a single retry for connection establishment failures
//   - mapping of 401/403 responses to sentinel errors
package transport
