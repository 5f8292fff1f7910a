package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/smnsjas/go-winexec/wsman"
	"github.com/smnsjas/go-winexec/wsman/auth"
	"github.com/smnsjas/go-winexec/wsman/transport"
)

// Kind classifies a failure.
type Kind int

const (
	// KindConnectivity means the host could not be reached or authenticated.
	KindConnectivity Kind = iota + 1
	// KindTransport is a SOAP fault or an I/O failure after connecting.
	KindTransport
	// KindScriptExecution means a command exited nonzero.
	KindScriptExecution
	// KindTransfer means a file chunk could not be appended.
	KindTransfer
	// KindClearTarget means the transfer destination could not be cleared.
	KindClearTarget
	// KindTimeout means the outer deadline expired or a receive timed out.
	KindTimeout
	// KindInterrupted means the caller cancelled the operation.
	KindInterrupted
)

// Sentinel errors matched by errors.Is against an *Error of the same Kind.
var (
	ErrConnectivity    = errors.New("connectivity failure")
	ErrTransport       = errors.New("transport fault")
	ErrScriptExecution = errors.New("script execution failed")
	ErrTransfer        = errors.New("file transfer failed")
	ErrClearTarget     = errors.New("failed to clear transfer target")
	ErrTimeout         = errors.New("timed out waiting for operation")
	ErrInterrupted     = errors.New("operation interrupted")
)

var kindSentinels = map[Kind]error{
	KindConnectivity:    ErrConnectivity,
	KindTransport:       ErrTransport,
	KindScriptExecution: ErrScriptExecution,
	KindTransfer:        ErrTransfer,
	KindClearTarget:     ErrClearTarget,
	KindTimeout:         ErrTimeout,
	KindInterrupted:     ErrInterrupted,
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindTransport:
		return "transport"
	case KindScriptExecution:
		return "script_execution"
	case KindTransfer:
		return "transfer"
	case KindClearTarget:
		return "clear_target"
	case KindTimeout:
		return "timeout"
	case KindInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is returned by every Session operation.
type Error struct {
	Kind        Kind
	Host        string
	ExecutionID string

	// ExitCode is set for KindScriptExecution.
	ExitCode int

	// Chunk and Offset locate the failed chunk for KindTransfer.
	Chunk  int
	Offset int64

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(kindSentinels[e.Kind].Error())
	fmt.Fprintf(&b, " (host=%s execution_id=%s", e.Host, e.ExecutionID)
	switch e.Kind {
	case KindScriptExecution:
		fmt.Fprintf(&b, " exit_code=%d", e.ExitCode)
	case KindTransfer:
		fmt.Fprintf(&b, " chunk=%d offset=%d", e.Chunk, e.Offset)
	}
	b.WriteString(")")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// classifyError maps a transport-level error to a Kind.
func classifyError(err error) Kind {
	var tlsErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError

	switch {
	case errors.Is(err, context.Canceled):
		return KindInterrupted
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, wsman.ErrOperationTimeout):
		return KindTimeout
	case errors.Is(err, transport.ErrUnauthorized),
		errors.Is(err, transport.ErrForbidden),
		errors.Is(err, auth.ErrNegotiateRejected),
		errors.Is(err, auth.ErrNoTicket),
		transport.IsConnectError(err),
		errors.As(err, &tlsErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostnameErr):
		return KindConnectivity
	default:
		return KindTransport
	}
}

// wrapError attaches host and execution id to err, classifying it when it is
// not already an *Error. A nil err stays nil.
func (s *Session) wrapError(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return s.newError(classifyError(err), err)
}

func (s *Session) newError(kind Kind, err error) *Error {
	return &Error{
		Kind:        kind,
		Host:        s.cfg.Hostname,
		ExecutionID: s.cfg.ExecutionID,
		Err:         err,
	}
}
