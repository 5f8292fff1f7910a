package powershell

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// StrictMode is prepended to every framed script so the first failing
// cmdlet terminates it with a nonzero exit code.
const StrictMode = `$ErrorActionPreference="Stop"`

// MaxBatchSize is the largest number of commands dispatched in one round trip.
const MaxBatchSize = 20

// CompoundSeparator joins a batch into one cmd.exe compound command.
const CompoundSeparator = " && "

// Mode selects how a script is framed.
type Mode int

const (
	// ModeEncoded decodes the base64 script inline in one command.
	ModeEncoded Mode = iota
	// ModeUnencoded assembles the escaped script line by line in a scratch file.
	ModeUnencoded
	// ModeSplit streams the base64 script into a scratch file and decodes it there.
	ModeSplit
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeEncoded:
		return "encoded"
	case ModeUnencoded:
		return "unencoded"
	case ModeSplit:
		return "split"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses the name returned by String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "encoded":
		return ModeEncoded, nil
	case "unencoded":
		return ModeUnencoded, nil
	case "split":
		return ModeSplit, nil
	default:
		return 0, fmt.Errorf("powershell: unknown framing mode %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Plan is the framed form of one script.
type Plan struct {
	// Transfer, when non-empty, is written to ScratchPath before Commands run.
	Transfer []byte

	// Commands run in order. The last one executes the script.
	Commands []string

	// ScratchPath is the remote file the plan writes, or "" when the script
	// never touches disk.
	ScratchPath string
}

// Frame turns script into a Plan. scratchPath is only used by the modes that
// stage the script on the host.
func Frame(mode Mode, script, scratchPath string, inv Invocation) Plan {
	switch mode {
	case ModeUnencoded:
		return Plan{
			Commands:    AssembleLines(script, scratchPath, inv),
			ScratchPath: scratchPath,
		}
	case ModeSplit:
		return Plan{
			Transfer: []byte(base64.StdEncoding.EncodeToString([]byte(withStrictMode(script)))),
			Commands: []string{
				DecodeInPlace(scratchPath, inv),
				ExecuteFile(scratchPath, inv),
			},
			ScratchPath: scratchPath,
		}
	default:
		return Plan{Commands: []string{EncodeInline(script, inv)}}
	}
}

func withStrictMode(script string) string {
	return StrictMode + "\r\n" + script
}

// EncodeInline returns a single command that decodes and runs script.
func EncodeInline(script string, inv Invocation) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(withStrictMode(script)))
	return inv.Command("& ([scriptblock]::Create([Text.Encoding]::UTF8.GetString([Convert]::FromBase64String('" + encoded + "'))))")
}

// Lines splits script on LF or CRLF. A trailing line break does not produce
// an empty final line.
func Lines(script string) []string {
	if script == "" {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(script, "\r\n", "\n"), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// AssembleLines returns one append command per script line, led by the
// strict-mode line, and ends with the command that executes path.
func AssembleLines(script, path string, inv Invocation) []string {
	lines := append([]string{StrictMode}, Lines(script)...)
	cmds := make([]string, 0, len(lines)+1)
	for _, line := range lines {
		cmds = append(cmds, AppendLine(path, line, inv))
	}
	return append(cmds, ExecuteFile(path, inv))
}

// AppendLine returns a command that appends line and CRLF to path.
func AppendLine(path, line string, inv Invocation) string {
	return appendText(path, Escape(line)+"`r`n", inv)
}

func appendText(path, escaped string, inv Invocation) string {
	return inv.String() + ` -Command "[IO.File]::AppendAllText(` + expandPath(path) + `, \"` + escaped + `\")"`
}

func writeText(path, escaped string, inv Invocation) string {
	return inv.String() + ` -Command "[IO.File]::WriteAllText(` + expandPath(path) + `, \"` + escaped + `\")"`
}

// ExecuteFile returns a command that runs the script at path.
func ExecuteFile(path string, inv Invocation) string {
	return inv.String() + ` -File "` + path + `"`
}

// DecodeInPlace returns a command that replaces the base64 text in path with
// the bytes it encodes.
func DecodeInPlace(path string, inv Invocation) string {
	return inv.Command("$p=" + expandPath(path) + "; [IO.File]::WriteAllBytes($p, [Convert]::FromBase64String([IO.File]::ReadAllText($p)))")
}

// Cleanup returns a command that deletes path if it exists. Environment
// variables in path are expanded on the host first.
func Cleanup(path string, inv Invocation) string {
	return inv.Command("$p=" + expandPath(path) + "; if (Test-Path -LiteralPath $p) { Remove-Item -LiteralPath $p -Force }")
}

// Batch groups commands into consecutive slices of at most size commands.
// A size outside 1..MaxBatchSize means MaxBatchSize.
func Batch(commands []string, size int) [][]string {
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}
	batches := make([][]string, 0, (len(commands)+size-1)/size)
	for start := 0; start < len(commands); start += size {
		end := min(start+size, len(commands))
		batches = append(batches, commands[start:end])
	}
	return batches
}

// JoinCompound renders a batch as one cmd.exe compound command that stops
// at the first failing command.
func JoinCompound(batch []string) string {
	return strings.Join(batch, CompoundSeparator)
}

// ScratchPath returns the script scratch file for an execution, under dir or
// %TEMP% when dir is empty.
func ScratchPath(dir, executionID string) string {
	return JoinPath(tempDir(dir), "winexec-"+executionID+".ps1")
}

// VariablesPath returns the side file captured variables are written to.
func VariablesPath(dir, executionID string) string {
	return JoinPath(tempDir(dir), "winexec-"+executionID+"-env.out")
}

func tempDir(dir string) string {
	if dir == "" {
		return `%TEMP%`
	}
	return dir
}

// JoinPath joins Windows path elements with a single backslash.
func JoinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return strings.TrimRight(dir, `\/`) + `\` + strings.TrimLeft(name, `\/`)
}
