package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/smnsjas/go-winexec/powershell"
)

// TransferState is a step of a file transfer.
type TransferState int

const (
	TransferClearTarget TransferState = iota
	TransferChunks
	TransferDone
)

// String implements fmt.Stringer.
func (s TransferState) String() string {
	switch s {
	case TransferClearTarget:
		return "clear_target"
	case TransferChunks:
		return "transfer"
	case TransferDone:
		return "done"
	default:
		return fmt.Sprintf("TransferState(%d)", int(s))
	}
}

// TransferObserver is told about each step of a transfer. chunk counts from
// 1 during TransferChunks and is 0 otherwise.
type TransferObserver func(state TransferState, chunk, chunks int)

// ProgressFunc receives the transferred fraction, in [0, 1], after each chunk.
// Successive values never decrease.
type ProgressFunc func(fraction float64)

// CopyOption configures Session.CopyFile.
type CopyOption func(*copyOptions)

type copyOptions struct {
	progress  ProgressFunc
	chunkSize int
}

// WithProgress reports transfer progress to fn.
func WithProgress(fn ProgressFunc) CopyOption {
	return func(o *copyOptions) { o.progress = fn }
}

// WithChunkSize overrides SessionConfig.ChunkSize for one copy.
func WithChunkSize(size int) CopyOption {
	return func(o *copyOptions) {
		if size > 0 {
			o.chunkSize = size
		}
	}
}

// transferProgress turns sent byte counts into fractions.
type transferProgress struct {
	sent  int64
	total int64
	last  float64
	fn    ProgressFunc
}

func (p *transferProgress) update(n int) {
	p.sent += int64(n)
	fraction := 1.0
	if p.total > 0 {
		fraction = min(1, float64(p.sent)/float64(p.total))
	}
	if fraction < p.last {
		fraction = p.last
	}
	p.last = fraction
	if p.fn != nil {
		p.fn(fraction)
	}
}

// FileTransferer writes content to a remote file: the destination is cleared,
// then fixed-size chunks are appended in order.
type FileTransferer struct {
	transport Transport
	inv       powershell.Invocation
	chunkSize int
	raw       bool
	logger    *slog.Logger
	metrics   *Metrics
	host      string
	execID    string
	observer  TransferObserver

	// commands counts every command sent, for ExecutionResult.
	commands int
}

// chunkError reports a failed chunk. Cancellation and timeouts keep their
// own kind.
func (f *FileTransferer) chunkError(chunk powershell.Chunk, err error) *Error {
	kind := classifyError(err)
	if kind != KindInterrupted && kind != KindTimeout {
		kind = KindTransfer
	}
	return &Error{
		Kind:        kind,
		Host:        f.host,
		ExecutionID: f.execID,
		Chunk:       chunk.Index,
		Offset:      chunk.Offset,
		Err:         err,
	}
}

// clearError reports a destination that could not be cleared.
func (f *FileTransferer) clearError(err error) *Error {
	kind := classifyError(err)
	if kind != KindInterrupted && kind != KindTimeout {
		kind = KindClearTarget
	}
	return &Error{Kind: kind, Host: f.host, ExecutionID: f.execID, Err: err}
}

// Transfer clears path and appends content to it. An empty content creates
// an empty file.
func (f *FileTransferer) Transfer(ctx context.Context, path string, content []byte, progress ProgressFunc, stdout, stderr io.Writer) error {
	return f.transfer(ctx, path, content, f.raw, false, f.inv, progress, stdout, stderr)
}

// transfer is Transfer with the chunk encoding and invocation chosen by the
// caller. Raw chunks require UTF-8 content; anything else is sent encoded.
// With overwrite set path is not cleared first; the first chunk replaces
// whatever it holds.
func (f *FileTransferer) transfer(ctx context.Context, path string, content []byte, raw, overwrite bool, inv powershell.Invocation, progress ProgressFunc, stdout, stderr io.Writer) error {
	if raw && !utf8.Valid(content) {
		f.logger.Debug("content is not UTF-8 text, sending encoded chunks", "path", path)
		raw = false
	}

	if !overwrite {
		f.observe(TransferClearTarget, 0, 0)
		code, err := f.exec(ctx, powershell.ClearTarget(path, inv), stdout, stderr)
		if err == nil && code != 0 {
			err = fmt.Errorf("clear %s exited with code %d", path, code)
		}
		if err != nil {
			return f.clearError(err)
		}
	}

	p := &transferProgress{total: int64(len(content)), fn: progress}

	if len(content) == 0 {
		code, err := f.exec(ctx, powershell.CreateEmpty(path, inv), stdout, stderr)
		if err == nil && code != 0 {
			err = fmt.Errorf("create %s exited with code %d", path, code)
		}
		if err != nil {
			return f.chunkError(powershell.Chunk{}, err)
		}
		p.update(0)
		f.observe(TransferDone, 0, 0)
		return nil
	}

	var chunks []powershell.Chunk
	if raw {
		chunks = powershell.SplitText(content, f.chunkSize)
	} else {
		chunks = powershell.Split(content, f.chunkSize)
	}

	for _, chunk := range chunks {
		f.observe(TransferChunks, chunk.Index+1, len(chunks))
		cmd := chunkCommand(path, chunk, raw, overwrite, inv)
		code, err := f.exec(ctx, cmd, stdout, stderr)
		if err == nil && code != 0 {
			err = fmt.Errorf("append exited with code %d", code)
		}
		if err != nil {
			return f.chunkError(chunk, err)
		}
		f.metrics.bytesTransferred(len(chunk.Data))
		p.update(len(chunk.Data))
	}

	f.observe(TransferDone, 0, 0)
	f.logger.Debug("transfer complete",
		"path", path,
		"bytes", len(content),
		"chunks", len(chunks),
		"raw", raw)
	return nil
}

func chunkCommand(path string, chunk powershell.Chunk, raw, overwrite bool, inv powershell.Invocation) string {
	first := overwrite && chunk.Index == 0
	switch {
	case raw && first:
		return powershell.WriteRawChunk(path, chunk.Data, inv)
	case raw:
		return powershell.AppendRawChunk(path, chunk.Data, inv)
	case first:
		return powershell.WriteChunk(path, chunk.Data, inv)
	default:
		return powershell.AppendChunk(path, chunk.Data, inv)
	}
}

func (f *FileTransferer) observe(state TransferState, chunk, chunks int) {
	if f.observer != nil {
		f.observer(state, chunk, chunks)
	}
}

func (f *FileTransferer) exec(ctx context.Context, cmd string, stdout, stderr io.Writer) (int, error) {
	f.commands++
	return f.transport.Execute(ctx, cmd, stdout, stderr)
}

// invalidNameChars cannot appear in a Windows file name.
const invalidNameChars = `<>:"/\|?*`

// validatePaths checks a CopyFile destination. destDir must be absolute or
// start with an environment variable reference such as %TEMP%.
func validatePaths(destDir, destName string) error {
	if destDir == "" {
		return fmt.Errorf("destination directory cannot be empty")
	}
	if !isAbsWindowsPath(destDir) && !strings.HasPrefix(destDir, "%") {
		return fmt.Errorf("destination directory must be absolute (e.g., C:\\path or \\\\server\\share): %s", destDir)
	}
	if hasTraversal(destDir) {
		return fmt.Errorf("destination directory contains invalid traversal: %s", destDir)
	}
	if strings.Contains(destDir, `"`) {
		return fmt.Errorf("destination directory contains a double quote: %s", destDir)
	}

	if destName == "" {
		return fmt.Errorf("destination file name cannot be empty")
	}
	if destName == "." || destName == ".." {
		return fmt.Errorf("invalid destination file name: %s", destName)
	}
	if strings.ContainsAny(destName, invalidNameChars) {
		return fmt.Errorf("destination file name contains invalid characters: %s", destName)
	}
	return nil
}
