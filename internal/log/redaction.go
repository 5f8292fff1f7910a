// Package log holds the slog plumbing shared by the client and the CLI.
package log

import (
	"context"
	"log/slog"
	"strings"
)

// Redacted replaces sensitive values in log output.
const Redacted = "[REDACTED]"

// sensitiveKeys defines the list of keys whose values should be redacted.
// Keys are case-insensitive.
var sensitiveKeys = []string{
	"password",
	"pass",
	"secret",
	"token",
	"key",
	"auth",
	"ticket",
	"cred",
}

// RedactingHandler is a slog.Handler that redacts sensitive attributes and
// any occurrence of known secret values.
type RedactingHandler struct {
	next    slog.Handler
	secrets []string
}

// NewRedactingHandler wraps next. Every occurrence of a non-empty secret in
// the message or a string attribute is replaced with Redacted.
func NewRedactingHandler(next slog.Handler, secrets ...string) *RedactingHandler {
	h := &RedactingHandler{next: next}
	for _, s := range secrets {
		if s != "" {
			h.secrets = append(h.secrets, s)
		}
	}
	return h
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.scrub(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(redacted), secrets: h.secrets}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name), secrets: h.secrets}
}

func (h *RedactingHandler) redactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		group := make([]any, len(attrs))
		for i, attr := range attrs {
			group[i] = h.redactAttr(attr)
		}
		return slog.Group(a.Key, group...)
	}

	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	if a.Value.Kind() == slog.KindString && len(h.secrets) > 0 {
		return slog.String(a.Key, h.scrub(a.Value.String()))
	}
	return a
}

func (h *RedactingHandler) scrub(s string) string {
	for _, secret := range h.secrets {
		s = strings.ReplaceAll(s, secret, Redacted)
	}
	return s
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sens := range sensitiveKeys {
		if strings.Contains(lower, sens) {
			return true
		}
	}
	return false
}
