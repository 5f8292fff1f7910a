package wsman

import (
	"fmt"
	"time"
)

// EndpointReference represents a WS-Addressing Endpoint Reference (EPR).
// It identifies the created shell instance on the server.
type EndpointReference struct {
	Address     string     `xml:"Address"`
	ResourceURI string     `xml:"ReferenceParameters>ResourceURI"`
	Selectors   []Selector `xml:"ReferenceParameters>SelectorSet>Selector"`
}

// ShellID returns the ShellId selector value, or "" if absent.
func (e *EndpointReference) ShellID() string {
	for _, s := range e.Selectors {
		if s.Name == "ShellId" {
			return s.Value
		}
	}
	return ""
}

// ShellSpec describes the rsp:Shell body sent with Create.
type ShellSpec struct {
	WorkingDirectory string
	Environment      map[string]string
	IdleTimeout      time.Duration
	InputStreams     string
	OutputStreams    string
}

// ReceiveResult contains the result of a Receive operation.
type ReceiveResult struct {
	Stdout       []byte
	Stderr       []byte
	CommandState string
	ExitCode     int
	Done         bool
}

// FormatDuration renders d as an xs:duration in whole seconds (e.g. "PT60S").
// Sub-second durations round up to one second.
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("PT%dS", secs)
}
