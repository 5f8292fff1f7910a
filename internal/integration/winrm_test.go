// Package integration drives a Session through the real WSMan, WinRS and
// authentication stack against an in-process WinRM listener.
package integration

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-winexec/client"
	"github.com/smnsjas/go-winexec/powershell"
	"github.com/smnsjas/go-winexec/wsman"
	"github.com/smnsjas/go-winexec/wsman/transport"
)

const (
	testUser     = "deploy"
	testPassword = "P@ssw0rd"
	testShellID  = "8A7D3E21-5C0B-4F8E-9D11-2B6A4C9E0F13"
)

var (
	reCommandLine = regexp.MustCompile(`<rsp:Command>(.*?)</rsp:Command>`)
	reCommandID   = regexp.MustCompile(`CommandId="([^"]+)"`)
	reEncoded     = regexp.MustCompile(`FromBase64String\('([A-Za-z0-9+/=]+)'\)`)
	reWriteHost   = regexp.MustCompile(`^Write-Host\s+["'](.*)["']$`)
	reExit        = regexp.MustCompile(`^exit\s+(\d+)$`)
	reSleep       = regexp.MustCompile(`^Start-Sleep\s+-Seconds\s+(\d+)$`)
	reOpTimeout   = regexp.MustCompile(`<w:OperationTimeout>PT(\d+)S</w:OperationTimeout>`)
)

type commandResult struct {
	stdout, stderr string
	code           int

	// silent is how long the command runs before it writes anything.
	silent time.Duration
}

// listener is a minimal WinRM service. It understands inline encoded
// scripts made of Write-Host, Start-Sleep and exit. Sleeps are not real: a
// receive whose operation timeout is shorter than the silence fails with
// w:TimedOut, like WinRM does.
type listener struct {
	mu       sync.Mutex
	creates  int
	deletes  int
	commands []string
	results  map[string]commandResult
}

func newListener(t *testing.T) (*listener, *httptest.Server) {
	l := &listener{results: make(map[string]commandResult)}
	server := httptest.NewServer(l)
	t.Cleanup(server.Close)
	return l, server
}

func (l *listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != testUser || pass != testPassword {
		w.Header().Set("WWW-Authenticate", `Basic realm="WSMAN"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	data, _ := io.ReadAll(r.Body)
	body := string(data)

	l.mu.Lock()
	defer l.mu.Unlock()

	w.Header().Set("Content-Type", transport.ContentTypeSOAP)
	switch {
	case hasAction(body, wsman.ActionCreate):
		l.creates++
		_, _ = io.WriteString(w, envelope(`<x:ResourceCreated xmlns:x="http://schemas.xmlsoap.org/ws/2004/09/transfer">
      <a:Address>http://`+r.Host+`/wsman</a:Address>
      <a:ReferenceParameters>
        <w:ResourceURI>`+wsman.ResourceURIWinRS+`</w:ResourceURI>
        <w:SelectorSet><w:Selector Name="ShellId">`+testShellID+`</w:Selector></w:SelectorSet>
      </a:ReferenceParameters>
    </x:ResourceCreated>`))

	case hasAction(body, wsman.ActionCommand):
		line := ""
		if m := reCommandLine.FindStringSubmatch(body); m != nil {
			line = html.UnescapeString(m[1])
		}
		id := fmt.Sprintf("C%04d", len(l.commands))
		l.commands = append(l.commands, line)
		l.results[id] = execute(line)
		_, _ = io.WriteString(w, envelope(`<rsp:CommandResponse xmlns:rsp="`+shellNS+`"><rsp:CommandId>`+id+`</rsp:CommandId></rsp:CommandResponse>`))

	case hasAction(body, wsman.ActionReceive):
		id := ""
		if m := reCommandID.FindStringSubmatch(body); m != nil {
			id = m[1]
		}
		res := l.results[id]
		if m := reOpTimeout.FindStringSubmatch(body); m != nil {
			secs, _ := strconv.Atoi(m[1])
			if res.silent > time.Duration(secs)*time.Second {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = io.WriteString(w, envelope(timedOutFault))
				return
			}
		}
		_, _ = io.WriteString(w, envelope(`<rsp:ReceiveResponse xmlns:rsp="`+shellNS+`">
      <rsp:Stream Name="stdout" CommandId="`+id+`">`+base64.StdEncoding.EncodeToString([]byte(res.stdout))+`</rsp:Stream>
      <rsp:Stream Name="stderr" CommandId="`+id+`">`+base64.StdEncoding.EncodeToString([]byte(res.stderr))+`</rsp:Stream>
      <rsp:Stream Name="stdout" CommandId="`+id+`" End="true"></rsp:Stream>
      <rsp:CommandState CommandId="`+id+`" State="`+wsman.CommandStateDone+`"><rsp:ExitCode>`+strconv.Itoa(res.code)+`</rsp:ExitCode></rsp:CommandState>
    </rsp:ReceiveResponse>`))

	case hasAction(body, wsman.ActionSignal):
		_, _ = io.WriteString(w, envelope(`<rsp:SignalResponse xmlns:rsp="`+shellNS+`"/>`))

	case hasAction(body, wsman.ActionDelete):
		l.deletes++
		_, _ = io.WriteString(w, envelope(""))

	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

const shellNS = "http://schemas.microsoft.com/wbem/wsman/1/windows/shell"

const timedOutFault = `<s:Fault>
      <s:Code><s:Value>s:Receiver</s:Value><s:Subcode><s:Value>w:TimedOut</s:Value></s:Subcode></s:Code>
      <s:Reason><s:Text xml:lang="en-US">The WS-Management service cannot complete the operation within the time specified in OperationTimeout.</s:Text></s:Reason>
    </s:Fault>`

func hasAction(body, action string) bool {
	return strings.Contains(body, ">"+action+"<")
}

func envelope(body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"
            xmlns:a="http://schemas.xmlsoap.org/ws/2004/08/addressing"
            xmlns:w="http://schemas.dmtf.org/wbem/wsman/1/wsman.xsd">
  <s:Body>` + body + `</s:Body>
</s:Envelope>`
}

// execute runs an inline encoded script.
func execute(commandLine string) commandResult {
	m := reEncoded.FindStringSubmatch(commandLine)
	if m == nil {
		return commandResult{stderr: "'" + commandLine + "' is not recognized as an internal or external command.\r\n", code: 1}
	}
	script, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return commandResult{stderr: err.Error(), code: 1}
	}

	var res commandResult
	for _, line := range strings.Split(strings.ReplaceAll(string(script), "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "", line == powershell.StrictMode:
		case reSleep.MatchString(line):
			secs, _ := strconv.Atoi(reSleep.FindStringSubmatch(line)[1])
			if res.stdout == "" {
				res.silent += time.Duration(secs) * time.Second
			}
		case reWriteHost.MatchString(line):
			res.stdout += reWriteHost.FindStringSubmatch(line)[1] + "\r\n"
		case reExit.MatchString(line):
			res.code, _ = strconv.Atoi(reExit.FindStringSubmatch(line)[1])
			return res
		default:
			res.stderr += "The term '" + line + "' is not recognized.\r\n"
			res.code = 1
			return res
		}
	}
	return res
}

func sessionConfig(t *testing.T, serverURL, password string) client.SessionConfig {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)

	cfg := client.DefaultSessionConfig()
	cfg.Hostname = host
	cfg.Port, err = strconv.Atoi(port)
	require.NoError(t, err)
	cfg.Username = testUser
	cfg.Password = password
	return cfg
}

func TestSession_OverWinRM(t *testing.T) {
	l, server := newListener(t)

	s, err := client.Connect(context.Background(), sessionConfig(t, server.URL, testPassword))
	require.NoError(t, err)

	res, err := s.RunScript(context.Background(), `Write-Host "hello from winrm"`, nil, powershell.ModeEncoded)
	require.NoError(t, err)
	assert.Equal(t, "hello from winrm\r\n", res.Stdout)
	assert.Equal(t, 1, res.CommandCount)

	res, err = s.RunScript(context.Background(), "Write-Host 'partial'\nexit 7", nil, powershell.ModeEncoded)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrScriptExecution)
	assert.Equal(t, 7, res.ExitCode)
	assert.Equal(t, "partial\r\n", res.Stdout)

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, 1, l.creates, "one shell serves every command")
	assert.Equal(t, 1, l.deletes)
	require.Len(t, l.commands, 2)
	assert.True(t, strings.HasPrefix(l.commands[0], "powershell -NonInteractive -ExecutionPolicy Bypass -Command "), l.commands[0])
}

func TestSession_RejectedCredentials(t *testing.T) {
	l, server := newListener(t)

	_, err := client.Connect(context.Background(), sessionConfig(t, server.URL, "wrong"))
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrConnectivity)
	assert.ErrorIs(t, err, transport.ErrUnauthorized)
	assert.Contains(t, err.Error(), "execution_id=")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Zero(t, l.creates)
}

func TestSession_ListenerDown(t *testing.T) {
	_, server := newListener(t)
	cfg := sessionConfig(t, server.URL, testPassword)
	server.Close()

	_, err := client.Connect(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, client.KindConnectivity, client.KindOf(err))
}

func TestSession_LongSilentCommand(t *testing.T) {
	const script = "Start-Sleep -Seconds 90\nWrite-Host 'installed'"

	t.Run("within session timeout", func(t *testing.T) {
		_, server := newListener(t)
		s, err := client.Connect(context.Background(), sessionConfig(t, server.URL, testPassword))
		require.NoError(t, err)
		defer s.Close(context.Background())

		res, err := s.RunScript(context.Background(), script, nil, powershell.ModeEncoded)
		require.NoError(t, err)
		assert.Equal(t, "installed\r\n", res.Stdout)
	})

	t.Run("shorter receive window", func(t *testing.T) {
		_, server := newListener(t)
		cfg := sessionConfig(t, server.URL, testPassword)
		cfg.OperationTimeout = time.Minute

		s, err := client.Connect(context.Background(), cfg)
		require.NoError(t, err)
		defer s.Close(context.Background())

		_, err = s.RunScript(context.Background(), script, nil, powershell.ModeEncoded)
		require.Error(t, err)
		assert.Equal(t, client.KindTimeout, client.KindOf(err))
	})
}
