package winrs

import (
	"context"

	"github.com/smnsjas/go-winexec/wsman"
)

// Transport is the subset of *wsman.Client a Shell needs.
type Transport interface {
	Create(ctx context.Context, resourceURI string, options map[string]string, spec wsman.ShellSpec) (*wsman.EndpointReference, error)
	Command(ctx context.Context, epr *wsman.EndpointReference, command string, arguments ...string) (string, error)
	Receive(ctx context.Context, epr *wsman.EndpointReference, commandID string) (*wsman.ReceiveResult, error)
	Signal(ctx context.Context, epr *wsman.EndpointReference, commandID, code string) error
	Delete(ctx context.Context, epr *wsman.EndpointReference) error
}

var _ Transport = (*wsman.Client)(nil)
