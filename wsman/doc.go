// Package wsman implements a WS-Management (WSMan) client for communicating
// with WinRM endpoints.
//
// It builds SOAP envelopes with WS-Addressing headers and implements the
// Windows Remote Shell operations needed to run commands on a host:
//
//   - Create: open a cmd shell (working directory, environment, options)
//   - Command: start a command line inside the shell
//   - Receive: poll stdout/stderr and the command state
//   - Signal: terminate or interrupt a command
//   - Delete: close the shell
//
// Receive never hides a w:TimedOut fault. It surfaces as ErrOperationTimeout
// so callers can treat an unknown-outcome poll as a failure.
//
// # Subpackages
//
//   - auth: Authentication handlers (Basic, NTLM, Negotiate/Kerberos) and Kerberos ticket caches
//   - transport: HTTP/TLS transport layer
package wsman
