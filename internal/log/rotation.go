package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig controls the size-based rotation of a log file.
type RotationConfig struct {
	// MaxSizeMB is the size in megabytes at which the file is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
	// MaxAgeDays removes rotated files older than this; zero keeps them.
	MaxAgeDays int
	// Compress gzips rotated files.
	Compress bool
}

// DefaultRotationConfig returns 10 MB files with ten backups.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 10}
}

// NewRotatingFile returns a writer that appends to path and rotates it by
// size. The parent directory is created with owner-only permissions.
func NewRotatingFile(path string, cfg RotationConfig) (*lumberjack.Logger, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   path,
		LocalTime:  true,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}, nil
}

// NewLogger builds a text logger on w behind a RedactingHandler.
func NewLogger(w io.Writer, level slog.Level, secrets ...string) *slog.Logger {
	text := slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource: level <= slog.LevelDebug,
		Level:     level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				if src, ok := a.Value.Any().(*slog.Source); ok {
					a.Value = slog.AnyValue(&slog.Source{
						File: filepath.Base(src.File),
						Line: src.Line,
					})
				}
			}
			return a
		},
	})
	return slog.New(NewRedactingHandler(text, secrets...))
}
