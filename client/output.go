package client

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// TruncationMarker ends output that exceeded MaxOutputBytes.
const TruncationMarker = "\n[output truncated]"

// boundedWriter keeps the first limit bytes written to it and discards the
// rest. Writes never fail so the remote stream is always drained.
type boundedWriter struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newBoundedWriter(limit int) *boundedWriter {
	return &boundedWriter{limit: limit}
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	room := w.limit - w.buf.Len()
	if room >= len(p) {
		w.buf.Write(p)
		return len(p), nil
	}
	if room > 0 {
		w.buf.Write(p[:room])
	}
	w.truncated = true
	return len(p), nil
}

// Bytes returns the kept output, followed by TruncationMarker if any was
// dropped.
func (w *boundedWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := bytes.Clone(w.buf.Bytes())
	if w.truncated {
		out = append(out, TruncationMarker...)
	}
	return out
}

// Truncated reports whether output was dropped.
func (w *boundedWriter) Truncated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.truncated
}

// lineLogWriter logs each complete line at debug level. Close flushes a
// trailing partial line.
type lineLogWriter struct {
	mu      sync.Mutex
	logger  *slog.Logger
	stream  string
	pending []byte
	closed  bool
}

func newLineLogWriter(logger *slog.Logger, stream string) *lineLogWriter {
	return &lineLogWriter{logger: logger, stream: stream}
}

func (w *lineLogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return len(p), nil
	}
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.emit(w.pending[:i])
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

func (w *lineLogWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if !w.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	w.logger.Debug("remote output", "stream", w.stream, "line", string(line))
}

// Close flushes the pending partial line. It is safe to call more than once.
func (w *lineLogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.pending) > 0 {
		w.emit(w.pending)
		w.pending = nil
	}
	return nil
}
