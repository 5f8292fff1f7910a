package powershell

import (
	"encoding/base64"
	"unicode/utf8"
)

// DefaultChunkSize keeps an encoded chunk command well under the cmd.exe
// command-line limit.
const DefaultChunkSize = 4 * 1024

// Chunk is one slice of a file transfer.
type Chunk struct {
	Index  int
	Offset int64
	Data   []byte
}

// Split cuts content into consecutive chunks of size bytes; the last one may
// be shorter. Empty content yields no chunks.
func Split(content []byte, size int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([]Chunk, 0, (len(content)+size-1)/size)
	for off := 0; off < len(content); off += size {
		end := min(off+size, len(content))
		chunks = append(chunks, Chunk{Index: len(chunks), Offset: int64(off), Data: content[off:end]})
	}
	return chunks
}

// SplitText is Split for UTF-8 text sent unencoded: chunk boundaries never
// fall inside a multi-byte rune, so a chunk may be shorter than size.
func SplitText(content []byte, size int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var chunks []Chunk
	for off := 0; off < len(content); {
		end := min(off+size, len(content))
		for end < len(content) && end > off && !utf8.RuneStart(content[end]) {
			end--
		}
		if end == off {
			// size is smaller than the rune at off.
			_, n := utf8.DecodeRune(content[off:])
			end = off + n
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Offset: int64(off), Data: content[off:end]})
		off = end
	}
	return chunks
}

// AppendChunk returns a command that base64-decodes data and appends it to path.
func AppendChunk(path string, data []byte, inv Invocation) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	return inv.Command("$b=[Convert]::FromBase64String('" + encoded + "'); $s=[IO.File]::Open(" + expandPath(path) + ", [IO.FileMode]::Append); $s.Write($b, 0, $b.Length); $s.Close()")
}

// WriteChunk is AppendChunk that replaces any existing content of path.
func WriteChunk(path string, data []byte, inv Invocation) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	return inv.Command("$b=[Convert]::FromBase64String('" + encoded + "'); [IO.File]::WriteAllBytes(" + expandPath(path) + ", $b)")
}

// AppendRawChunk returns a command that appends data as escaped text.
// data must be valid UTF-8.
func AppendRawChunk(path string, data []byte, inv Invocation) string {
	return appendText(path, EscapeText(string(data)), inv)
}

// WriteRawChunk is AppendRawChunk that replaces any existing content of path.
func WriteRawChunk(path string, data []byte, inv Invocation) string {
	return writeText(path, EscapeText(string(data)), inv)
}

// ClearTarget returns a command that deletes path if it exists so the first
// chunk never lands on stale content.
func ClearTarget(path string, inv Invocation) string {
	return Cleanup(path, inv)
}

// MakeDirectory returns a command that creates dir and any missing parents.
func MakeDirectory(dir string, inv Invocation) string {
	return inv.Command("New-Item -ItemType Directory -Force -Path (" + expandPath(dir) + ") | Out-Null")
}

// CreateEmpty returns a command that creates an empty file at path.
func CreateEmpty(path string, inv Invocation) string {
	return inv.Command("[IO.File]::WriteAllBytes(" + expandPath(path) + ", [byte[]]@())")
}
