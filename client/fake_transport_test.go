package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/smnsjas/go-winexec/powershell"
)

// fakeHost is an in-memory Windows host. It interprets the commands the
// framing helpers produce against a map of files and runs scripts with a
// tiny PowerShell subset: Write-Host, Write-Error, $env: assignment, exit and
// the variable capture lines.
type fakeHost struct {
	mu    sync.Mutex
	files map[string][]byte
	env   map[string]string

	// fail, when set, is consulted before each command. ok=false means the
	// command runs normally.
	fail func(n int, cmd string) (code int, err error, ok bool)

	commands []string
	batches  [][]string
	removes  []string
	executed []string

	inFlight   atomic.Int32
	overlapped atomic.Bool
	closed     int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		files: make(map[string][]byte),
		env:   map[string]string{"TEMP": `C:\Users\deploy\AppData\Local\Temp`},
	}
}

var _ Transport = (*fakeHost)(nil)

var (
	singleQuoted = `'((?:[^']|'')*)'`
	expandArg    = `\[Environment\]::ExpandEnvironmentVariables\(` + singleQuoted + `\)`

	reInline      = regexp.MustCompile(`^& \(\[scriptblock\]::Create\(\[Text\.Encoding\]::UTF8\.GetString\(\[Convert\]::FromBase64String\('([A-Za-z0-9+/=]*)'\)\)\)\)$`)
	reAppendText  = regexp.MustCompile(`^\[IO\.File\]::AppendAllText\(` + expandArg + `, \\"(.*)\\"\)$`)
	reWriteText   = regexp.MustCompile(`^\[IO\.File\]::WriteAllText\(` + expandArg + `, \\"(.*)\\"\)$`)
	reWriteChunk  = regexp.MustCompile(`^\$b=\[Convert\]::FromBase64String\('([A-Za-z0-9+/=]*)'\); \[IO\.File\]::WriteAllBytes\(` + expandArg + `, \$b\)$`)
	reDecode      = regexp.MustCompile(`^\$p=` + expandArg + `; \[IO\.File\]::WriteAllBytes\(\$p, \[Convert\]::FromBase64String\(\[IO\.File\]::ReadAllText\(\$p\)\)\)$`)
	reRemove      = regexp.MustCompile(`^\$p=` + expandArg + `; if \(Test-Path -LiteralPath \$p\) \{ Remove-Item -LiteralPath \$p -Force \}$`)
	reAppendChunk = regexp.MustCompile(`^\$b=\[Convert\]::FromBase64String\('([A-Za-z0-9+/=]*)'\); \$s=\[IO\.File\]::Open\(` + expandArg + `, \[IO\.FileMode\]::Append\); \$s\.Write\(\$b, 0, \$b\.Length\); \$s\.Close\(\)$`)
	reMkdir       = regexp.MustCompile(`^New-Item -ItemType Directory -Force -Path \(` + expandArg + `\) \| Out-Null$`)
	reCreateEmpty = regexp.MustCompile(`^\[IO\.File\]::WriteAllBytes\(` + expandArg + `, \[byte\[\]\]@\(\)\)$`)
	reReadBack    = regexp.MustCompile(`^\$p=` + expandArg + `; \[Console\]::Out\.Write\(\[Convert\]::ToBase64String\(\[IO\.File\]::ReadAllBytes\(\$p\)\)\)$`)
	reType        = regexp.MustCompile(`^type "(.*)"$`)

	reWriteHost   = regexp.MustCompile(`^Write-Host\s+(?:"(.*)"|'(.*)'|(.*))$`)
	reWriteError  = regexp.MustCompile(`^Write-Error\s+["'](.*)["']$`)
	reSetEnv      = regexp.MustCompile(`^\$env:(\w+)\s*=\s*["'](.*)["']$`)
	reExit        = regexp.MustCompile(`^exit\s+(\d+)$`)
	reEnvFile     = regexp.MustCompile(`^\$__winexecEnvFile = ` + expandArg + `$`)
	reCaptureVar  = regexp.MustCompile(`^Add-Content -Encoding UTF8 -LiteralPath \$__winexecEnvFile -Value \(` + singleQuoted + ` \+ \[Environment\]::GetEnvironmentVariable\(` + singleQuoted + `\)\)$`)
	reCaptureText = regexp.MustCompile(`^Add-Content -Encoding UTF8 -LiteralPath \$__winexecEnvFile -Value ` + singleQuoted + `$`)
	reEnvRef      = regexp.MustCompile(`%(\w+)%`)
)

func unquote(s string) string {
	return strings.ReplaceAll(s, "''", "'")
}

func (h *fakeHost) expand(path string) string {
	return reEnvRef.ReplaceAllStringFunc(path, func(ref string) string {
		if v, ok := h.env[strings.Trim(ref, "%")]; ok {
			return v
		}
		return ref
	})
}

// file returns a copy of the file at path, or nil.
func (h *fakeHost) file(path string) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.files[h.expand(path)]
	if !ok {
		return nil
	}
	return bytes.Clone(data)
}

func (h *fakeHost) exists(path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.files[h.expand(path)]
	return ok
}

func (h *fakeHost) put(path string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[h.expand(path)] = data
}

// removeCount returns how many remove commands targeted path.
func (h *fakeHost) removeCount(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, p := range h.removes {
		if p == h.expand(path) {
			n++
		}
	}
	return n
}

func (h *fakeHost) commandLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}

func (h *fakeHost) batchLog() [][]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]string(nil), h.batches...)
}

func (h *fakeHost) Execute(ctx context.Context, command string, stdout, stderr io.Writer) (int, error) {
	if h.inFlight.Add(1) > 1 {
		h.overlapped.Store(true)
	}
	defer h.inFlight.Add(-1)

	if err := ctx.Err(); err != nil {
		return -1, err
	}

	h.mu.Lock()
	n := len(h.commands)
	h.commands = append(h.commands, command)
	fail := h.fail
	h.mu.Unlock()

	if fail != nil {
		if code, err, ok := fail(n, command); ok {
			return code, err
		}
	}
	return h.run(command, stdout, stderr)
}

func (h *fakeHost) ExecuteBatch(ctx context.Context, commands []string, stdout, stderr io.Writer) (int, error) {
	h.mu.Lock()
	h.batches = append(h.batches, append([]string(nil), commands...))
	h.mu.Unlock()

	for _, cmd := range commands {
		code, err := h.Execute(ctx, cmd, stdout, stderr)
		if err != nil || code != 0 {
			return code, err
		}
	}
	return 0, nil
}

func (h *fakeHost) Close(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return nil
}

// run interprets one command line.
func (h *fakeHost) run(command string, stdout, stderr io.Writer) (int, error) {
	if m := reType.FindStringSubmatch(command); m != nil {
		data := h.file(m[1])
		if data == nil {
			fmt.Fprintln(stderr, "The system cannot find the file specified.")
			return 1, nil
		}
		_, _ = stdout.Write(data)
		return 0, nil
	}

	prefix := powershell.Executable + " "
	if !strings.HasPrefix(command, prefix) {
		return -1, fmt.Errorf("fake host: unrecognized command %q", command)
	}

	if i := strings.Index(command, ` -Command "`); i >= 0 && strings.HasSuffix(command, `"`) {
		expr := command[i+len(` -Command "`) : len(command)-1]
		return h.runExpr(expr, stdout, stderr)
	}
	if i := strings.Index(command, ` -File "`); i >= 0 && strings.HasSuffix(command, `"`) {
		path := command[i+len(` -File "`) : len(command)-1]
		data := h.file(path)
		if data == nil {
			fmt.Fprintf(stderr, "The argument '%s' to the -File parameter does not exist.\n", path)
			return 1, nil
		}
		h.mu.Lock()
		h.executed = append(h.executed, h.expand(path))
		h.mu.Unlock()
		return h.runScript(string(data), stdout, stderr), nil
	}
	return -1, fmt.Errorf("fake host: unrecognized command %q", command)
}

func (h *fakeHost) runExpr(expr string, stdout, stderr io.Writer) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case reInline.MatchString(expr):
		m := reInline.FindStringSubmatch(expr)
		script, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			return -1, err
		}
		h.mu.Unlock()
		code := h.runScript(string(script), stdout, stderr)
		h.mu.Lock()
		return code, nil

	case reAppendText.MatchString(expr):
		m := reAppendText.FindStringSubmatch(expr)
		path := h.expand(unquote(m[1]))
		h.files[path] = append(h.files[path], powershell.Unescape(m[2])...)
		return 0, nil

	case reWriteText.MatchString(expr):
		m := reWriteText.FindStringSubmatch(expr)
		path := h.expand(unquote(m[1]))
		h.files[path] = []byte(powershell.Unescape(m[2]))
		return 0, nil

	case reWriteChunk.MatchString(expr):
		m := reWriteChunk.FindStringSubmatch(expr)
		data, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			return -1, err
		}
		h.files[h.expand(unquote(m[2]))] = data
		return 0, nil

	case reDecode.MatchString(expr):
		path := h.expand(unquote(reDecode.FindStringSubmatch(expr)[1]))
		data, err := base64.StdEncoding.DecodeString(string(h.files[path]))
		if err != nil {
			fmt.Fprintln(stderr, "Invalid length for a Base-64 char array or string.")
			return 1, nil
		}
		h.files[path] = data
		return 0, nil

	case reRemove.MatchString(expr):
		path := h.expand(unquote(reRemove.FindStringSubmatch(expr)[1]))
		h.removes = append(h.removes, path)
		delete(h.files, path)
		return 0, nil

	case reAppendChunk.MatchString(expr):
		m := reAppendChunk.FindStringSubmatch(expr)
		data, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			return -1, err
		}
		path := h.expand(unquote(m[2]))
		h.files[path] = append(h.files[path], data...)
		return 0, nil

	case reMkdir.MatchString(expr):
		return 0, nil

	case reCreateEmpty.MatchString(expr):
		path := h.expand(unquote(reCreateEmpty.FindStringSubmatch(expr)[1]))
		h.files[path] = []byte{}
		return 0, nil

	case reReadBack.MatchString(expr):
		path := h.expand(unquote(reReadBack.FindStringSubmatch(expr)[1]))
		data, ok := h.files[path]
		if !ok {
			fmt.Fprintf(stderr, "Could not find file '%s'.\n", path)
			return 1, nil
		}
		_, _ = io.WriteString(stdout, base64.StdEncoding.EncodeToString(data))
		return 0, nil
	}
	return -1, fmt.Errorf("fake host: unrecognized expression %q", expr)
}

// runScript interprets script and returns its exit code.
func (h *fakeHost) runScript(script string, stdout, stderr io.Writer) int {
	env := make(map[string]string)
	envFile := ""

	for _, line := range strings.Split(strings.ReplaceAll(script, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "", line == powershell.StrictMode:
		case reWriteHost.MatchString(line):
			m := reWriteHost.FindStringSubmatch(line)
			fmt.Fprintln(stdout, m[1]+m[2]+m[3])
		case reWriteError.MatchString(line):
			fmt.Fprintln(stderr, reWriteError.FindStringSubmatch(line)[1])
			return 1
		case reSetEnv.MatchString(line):
			m := reSetEnv.FindStringSubmatch(line)
			env[m[1]] = m[2]
		case reExit.MatchString(line):
			code, _ := strconv.Atoi(reExit.FindStringSubmatch(line)[1])
			return code
		case reEnvFile.MatchString(line):
			envFile = h.expand(unquote(reEnvFile.FindStringSubmatch(line)[1]))
		case reCaptureVar.MatchString(line):
			m := reCaptureVar.FindStringSubmatch(line)
			h.addContent(envFile, unquote(m[1])+env[unquote(m[2])])
		case reCaptureText.MatchString(line):
			h.addContent(envFile, unquote(reCaptureText.FindStringSubmatch(line)[1]))
		default:
			fmt.Fprintf(stderr, "The term '%s' is not recognized.\n", line)
			return 1
		}
	}
	return 0
}

// addContent mimics Add-Content -Encoding UTF8 on Windows PowerShell: a new
// file starts with a byte order mark and every value ends with CRLF.
func (h *fakeHost) addContent(path, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.files[path]
	if !ok {
		data = []byte{0xef, 0xbb, 0xbf}
	}
	h.files[path] = append(append(data, value...), '\r', '\n')
}
