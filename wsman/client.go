package wsman

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxEnvelopeSize matches the WinRM service default (150 KiB).
	DefaultMaxEnvelopeSize = 153600

	// DefaultOperationTimeout is used when no operation timeout is configured.
	DefaultOperationTimeout = 60 * time.Second
)

// Poster sends a SOAP request body to url and returns the response body.
// *transport.HTTPTransport satisfies it.
type Poster interface {
	Post(ctx context.Context, url string, body []byte) ([]byte, error)
}

// Client is a WSMan client for communicating with WinRM endpoints.
type Client struct {
	endpoint         string
	transport        Poster
	sessionID        string
	locale           string
	maxEnvelopeSize  int
	operationTimeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithOperationTimeout sets the w:OperationTimeout sent with every request.
// Receive uses it as the long-poll limit: when it elapses without the
// command finishing, Receive fails with ErrOperationTimeout.
func WithOperationTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.operationTimeout = d
		}
	}
}

// WithMaxEnvelopeSize overrides DefaultMaxEnvelopeSize.
func WithMaxEnvelopeSize(size int) ClientOption {
	return func(c *Client) {
		if size > 0 {
			c.maxEnvelopeSize = size
		}
	}
}

// WithLocale sets the locale and data locale headers (default "en-US").
func WithLocale(locale string) ClientOption {
	return func(c *Client) {
		if locale != "" {
			c.locale = locale
		}
	}
}

// NewClient creates a new WSMan client.
func NewClient(endpoint string, tr Poster, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:         endpoint,
		transport:        tr,
		sessionID:        newMessageID(),
		locale:           "en-US",
		maxEnvelopeSize:  DefaultMaxEnvelopeSize,
		operationTimeout: DefaultOperationTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the WSMan endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// OperationTimeout returns the configured operation timeout.
func (c *Client) OperationTimeout() time.Duration {
	return c.operationTimeout
}

func newMessageID() string {
	return "uuid:" + strings.ToUpper(uuid.New().String())
}

// newEnvelope returns an envelope with the headers shared by every request.
func (c *Client) newEnvelope(action, resourceURI string) *Envelope {
	return NewEnvelope().
		WithAction(action).
		WithTo(c.endpoint).
		WithResourceURI(resourceURI).
		WithMessageID(newMessageID()).
		WithReplyTo(AddressAnonymous).
		WithMaxEnvelopeSize(c.maxEnvelopeSize).
		WithOperationTimeout(FormatDuration(c.operationTimeout)).
		WithSessionID(c.sessionID).
		WithLocale(c.locale).
		WithDataLocale(c.locale).
		WithShellNamespace()
}

func (c *Client) targeted(action string, epr *EndpointReference) *Envelope {
	env := c.newEnvelope(action, epr.ResourceURI)
	for _, s := range epr.Selectors {
		env.WithSelector(s.Name, s.Value)
	}
	return env
}

type shellRequest struct {
	XMLName          xml.Name          `xml:"rsp:Shell"`
	InputStreams     string            `xml:"rsp:InputStreams"`
	OutputStreams    string            `xml:"rsp:OutputStreams"`
	WorkingDirectory string            `xml:"rsp:WorkingDirectory,omitempty"`
	IdleTimeOut      string            `xml:"rsp:IdleTimeOut,omitempty"`
	Environment      *shellEnvironment `xml:"rsp:Environment,omitempty"`
}

type shellEnvironment struct {
	Variables []shellVariable `xml:"rsp:Variable"`
}

type shellVariable struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:",chardata"`
}

// Create creates a new shell and returns its EndpointReference.
// options are sent as w:Option headers in sorted order.
func (c *Client) Create(ctx context.Context, resourceURI string, options map[string]string, spec ShellSpec) (*EndpointReference, error) {
	env := c.newEnvelope(ActionCreate, resourceURI)

	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		env.WithOption(name, options[name])
	}

	req := shellRequest{
		InputStreams:     spec.InputStreams,
		OutputStreams:    spec.OutputStreams,
		WorkingDirectory: spec.WorkingDirectory,
	}
	if req.InputStreams == "" {
		req.InputStreams = "stdin"
	}
	if req.OutputStreams == "" {
		req.OutputStreams = "stdout stderr"
	}
	if spec.IdleTimeout > 0 {
		req.IdleTimeOut = FormatDuration(spec.IdleTimeout)
	}
	if len(spec.Environment) > 0 {
		keys := make([]string, 0, len(spec.Environment))
		for k := range spec.Environment {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		req.Environment = &shellEnvironment{}
		for _, k := range keys {
			req.Environment.Variables = append(req.Environment.Variables,
				shellVariable{Name: k, Value: spec.Environment[k]})
		}
	}

	body, err := xml.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal shell: %w", err)
	}
	env.WithBody(body)

	respBody, err := c.sendEnvelope(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("create shell: %w", err)
	}

	var resp createResponse
	if err := xml.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parse create response: %w", err)
	}

	created := resp.Body.ResourceCreated
	epr := &EndpointReference{
		Address:     created.Address,
		ResourceURI: created.ReferenceParameters.ResourceURI,
		Selectors:   created.ReferenceParameters.SelectorSet.Selectors,
	}
	if epr.ResourceURI == "" {
		epr.ResourceURI = resourceURI
	}
	// Some WinRM versions only report the id in the rsp:Shell body.
	if len(epr.Selectors) == 0 && resp.Body.Shell.ShellID != "" {
		epr.Selectors = []Selector{{Name: "ShellId", Value: resp.Body.Shell.ShellID}}
	}
	if epr.ShellID() == "" {
		return nil, fmt.Errorf("create shell: response did not contain a ShellId")
	}

	return epr, nil
}

type commandLine struct {
	XMLName   xml.Name `xml:"rsp:CommandLine"`
	Command   string   `xml:"rsp:Command"`
	Arguments []string `xml:"rsp:Arguments,omitempty"`
}

// Command starts command in the shell and returns the command ID.
// The command text and arguments are XML-escaped.
func (c *Client) Command(ctx context.Context, epr *EndpointReference, command string, arguments ...string) (string, error) {
	env := c.targeted(ActionCommand, epr).
		WithOption(OptionConsoleModeStdin, "TRUE").
		WithOption(OptionSkipCmdShell, "FALSE")

	body, err := xml.Marshal(commandLine{Command: command, Arguments: arguments})
	if err != nil {
		return "", fmt.Errorf("marshal command: %w", err)
	}
	env.WithBody(body)

	respBody, err := c.sendEnvelope(ctx, env)
	if err != nil {
		return "", fmt.Errorf("create command: %w", err)
	}

	var resp commandResponse
	if err := xml.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("parse command response: %w", err)
	}
	if resp.Body.CommandResponse.CommandID == "" {
		return "", fmt.Errorf("create command: response did not contain a CommandId")
	}

	return resp.Body.CommandResponse.CommandID, nil
}

// Receive retrieves the next block of stdout/stderr for a command.
//
// A w:TimedOut fault is returned as ErrOperationTimeout. The caller decides
// whether polling again is safe; it is never retried here.
func (c *Client) Receive(ctx context.Context, epr *EndpointReference, commandID string) (*ReceiveResult, error) {
	env := c.targeted(ActionReceive, epr).
		WithOption("WSMAN_CMDSHELL_OPTION_KEEPALIVE", "TRUE")

	env.WithBody([]byte(`<rsp:Receive><rsp:DesiredStream CommandId="` + xmlAttr(commandID) + `">stdout stderr</rsp:DesiredStream></rsp:Receive>`))

	respBody, err := c.sendEnvelope(ctx, env)
	if err != nil {
		if f, ok := AsFault(err); ok && f.IsTimeout() {
			return nil, fmt.Errorf("receive: %w: %w", ErrOperationTimeout, err)
		}
		return nil, fmt.Errorf("receive: %w", err)
	}

	var resp receiveResponse
	if err := xml.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parse receive response: %w", err)
	}

	result := &ReceiveResult{}
	for _, stream := range resp.Body.ReceiveResponse.Streams {
		if stream.Content == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(stream.Content))
		if err != nil {
			return nil, fmt.Errorf("decode %s stream: %w", stream.Name, err)
		}
		switch stream.Name {
		case "stdout":
			result.Stdout = append(result.Stdout, decoded...)
		case "stderr":
			result.Stderr = append(result.Stderr, decoded...)
		}
	}

	state := resp.Body.ReceiveResponse.CommandState
	result.CommandState = state.State
	if state.ExitCode != nil {
		result.ExitCode = *state.ExitCode
	}
	result.Done = state.State == CommandStateDone

	return result, nil
}

// Signal sends a signal code (SignalTerminate, SignalCtrlC) to a command.
func (c *Client) Signal(ctx context.Context, epr *EndpointReference, commandID, code string) error {
	env := c.targeted(ActionSignal, epr)
	env.WithBody([]byte(`<rsp:Signal CommandId="` + xmlAttr(commandID) + `"><rsp:Code>` + code + `</rsp:Code></rsp:Signal>`))

	if _, err := c.sendEnvelope(ctx, env); err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	return nil
}

// Delete deletes a shell.
func (c *Client) Delete(ctx context.Context, epr *EndpointReference) error {
	if _, err := c.sendEnvelope(ctx, c.targeted(ActionDelete, epr)); err != nil {
		return fmt.Errorf("delete shell: %w", err)
	}
	return nil
}

// sendEnvelope marshals and sends a SOAP envelope, returning the response body.
func (c *Client) sendEnvelope(ctx context.Context, env *Envelope) ([]byte, error) {
	body, err := env.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	respBody, err := c.transport.Post(ctx, c.endpoint, body)
	if err != nil {
		return nil, err
	}

	// Check for SOAP Fault even in successful HTTP responses
	if err := CheckFault(respBody); err != nil {
		return nil, fmt.Errorf("wsman: %w", err)
	}

	return respBody, nil
}

func xmlAttr(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

type createResponse struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		ResourceCreated struct {
			Address             string `xml:"Address"`
			ReferenceParameters struct {
				ResourceURI string `xml:"ResourceURI"`
				SelectorSet struct {
					Selectors []Selector `xml:"Selector"`
				} `xml:"SelectorSet"`
			} `xml:"ReferenceParameters"`
		} `xml:"ResourceCreated"`
		Shell struct {
			ShellID string `xml:"ShellId"`
		} `xml:"Shell"`
	} `xml:"Body"`
}

type commandResponse struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		CommandResponse struct {
			CommandID string `xml:"CommandId"`
		} `xml:"http://schemas.microsoft.com/wbem/wsman/1/windows/shell CommandResponse"`
	} `xml:"Body"`
}

type receiveResponse struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		ReceiveResponse struct {
			Streams []struct {
				Name      string `xml:"Name,attr"`
				CommandID string `xml:"CommandId,attr"`
				End       bool   `xml:"End,attr"`
				Content   string `xml:",chardata"`
			} `xml:"Stream"`
			CommandState struct {
				CommandID string `xml:"CommandId,attr"`
				State     string `xml:"State,attr"`
				ExitCode  *int   `xml:"ExitCode"`
			} `xml:"CommandState"`
		} `xml:"ReceiveResponse"`
	} `xml:"Body"`
}
