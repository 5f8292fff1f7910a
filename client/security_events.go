package client

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// NIST SP 800-92 compliant event types
const (
	EventAuthentication   = "authentication"
	EventConnection       = "connection"
	EventCommand          = "command"
	EventFileTransfer     = "file_transfer"
	EventSessionLifecycle = "session_lifecycle"
)

// Security event subtypes
const (
	SubtypeConnEstablished = "established"
	SubtypeConnClosed      = "closed"
	SubtypeConnFailed      = "failed"
	SubtypeAuthAttempt     = "attempt"
	SubtypeAuthSuccess     = "success"
	SubtypeAuthFailure     = "failure"
	SubtypeSessionOpened   = "open"
	SubtypeSessionClosed   = "closed"
	SubtypeCommandExecute  = "execute"
	SubtypeCommandComplete = "complete"
	SubtypeCommandFailed   = "failed"
	SubtypeTransferStart   = "start"
	SubtypeTransferDone    = "complete"
	SubtypeTransferFailed  = "failed"
)

// Security event outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
	OutcomeAttempt = "attempt"
)

// Security event severities
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityError    = "ERROR"
	SeverityCritical = "CRITICAL"
)

// eventSource identifies this library in security events.
const eventSource = "go-winexec"

// SecurityEvent represents a structured security log event compliant with NIST SP 800-92.
type SecurityEvent struct {
	// NIST Required Fields
	Timestamp string `json:"timestamp"`  // ISO 8601 UTC
	EventType string `json:"event_type"` // auth, connection, command, file_transfer
	Subtype   string `json:"subtype"`
	Severity  string `json:"severity"`

	// Identity & Context
	User          string `json:"user,omitempty"`
	Source        string `json:"source"`
	Target        string `json:"target"`         // host:port
	CorrelationID string `json:"correlation_id"` // Session-scoped UUID

	// Operation Details
	Action  string         `json:"action"`
	Outcome string         `json:"outcome"`
	Details map[string]any `json:"details,omitempty"`
}

// SecurityLogger generates and writes security events for one session.
type SecurityLogger struct {
	logger        *slog.Logger
	user          string
	target        string
	correlationID string
	now           func() time.Time
}

// NewSecurityLogger creates a logger for a session with a fresh correlation id.
func NewSecurityLogger(logger *slog.Logger, user, target string) *SecurityLogger {
	return &SecurityLogger{
		logger:        logger,
		user:          user,
		target:        target,
		correlationID: uuid.New().String(),
		now:           time.Now,
	}
}

// CorrelationID returns the id shared by all events of this logger.
func (l *SecurityLogger) CorrelationID() string {
	return l.correlationID
}

// LogEvent constructs and logs a security event.
func (l *SecurityLogger) LogEvent(eventType, subtype, severity, outcome string, details map[string]any) {
	if l == nil || l.logger == nil {
		return
	}

	if details == nil {
		details = make(map[string]any)
	}
	event := &SecurityEvent{
		Timestamp:     l.now().UTC().Format(time.RFC3339),
		EventType:     eventType,
		Subtype:       subtype,
		Severity:      severity,
		User:          l.user,
		Source:        eventSource,
		Target:        l.target,
		CorrelationID: l.correlationID,
		Action:        eventType + "." + subtype,
		Outcome:       outcome,
		Details:       details,
	}

	switch severity {
	case SeverityWarning:
		l.logger.Warn("SecurityEvent", "event", event)
	case SeverityError, SeverityCritical:
		l.logger.Error("SecurityEvent", "event", event)
	default:
		l.logger.Info("SecurityEvent", "event", event)
	}
}

// LogConnection logs connection events.
func (l *SecurityLogger) LogConnection(subtype, outcome, severity string, details map[string]any) {
	l.LogEvent(EventConnection, subtype, severity, outcome, details)
}

// LogSession logs session lifecycle events.
func (l *SecurityLogger) LogSession(subtype, outcome, severity string, details map[string]any) {
	l.LogEvent(EventSessionLifecycle, subtype, severity, outcome, details)
}

// LogCommand logs command execution events.
func (l *SecurityLogger) LogCommand(subtype, outcome, severity string, details map[string]any) {
	l.LogEvent(EventCommand, subtype, severity, outcome, details)
}

// LogAuthentication logs authentication events.
func (l *SecurityLogger) LogAuthentication(subtype, outcome, severity string, details map[string]any) {
	l.LogEvent(EventAuthentication, subtype, severity, outcome, details)
}

// LogFileTransfer logs file copy events.
func (l *SecurityLogger) LogFileTransfer(subtype, outcome, severity string, details map[string]any) {
	l.LogEvent(EventFileTransfer, subtype, severity, outcome, details)
}

// String returns the JSON representation of the event
func (e *SecurityEvent) String() string {
	b, _ := json.Marshal(e)
	return string(b)
}
