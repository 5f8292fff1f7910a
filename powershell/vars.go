package powershell

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

// Marker ends every record in the variables side file. A record is
// "NAME=value", a line break, the marker and another line break.
//
// A value that itself contains a line break followed by the marker and a
// line break is split into two records.
const Marker = "__NL"

// Mask replaces secret values in logs.
const Mask = "**************"

var (
	recordSeparator = regexp.MustCompile(`\r?\n` + Marker + `\r?\n`)
	utf8BOM         = []byte{0xef, 0xbb, 0xbf}
)

// CaptureVariables appends to script the lines that write each named
// environment variable to the side file at path.
func CaptureVariables(script, path string, names []string) string {
	if len(names) == 0 {
		return script
	}
	var b strings.Builder
	b.WriteString(script)
	if script != "" && !strings.HasSuffix(script, "\n") {
		b.WriteString("\r\n")
	}
	b.WriteString("$__winexecEnvFile = " + expandPath(path) + "\r\n")
	for _, name := range names {
		fmt.Fprintf(&b, "Add-Content -Encoding UTF8 -LiteralPath $__winexecEnvFile -Value (%s + [Environment]::GetEnvironmentVariable(%s))\r\n",
			quote(name+"="), quote(name))
		fmt.Fprintf(&b, "Add-Content -Encoding UTF8 -LiteralPath $__winexecEnvFile -Value %s\r\n", quote(Marker))
	}
	return b.String()
}

// ReadBack returns a command that prints the side file at path. With encoded
// set the file is printed as one base64 string.
func ReadBack(path string, encoded bool, inv Invocation) string {
	if !encoded {
		return `type "` + path + `"`
	}
	return inv.Command("$p=" + expandPath(path) + "; [Console]::Out.Write([Convert]::ToBase64String([IO.File]::ReadAllBytes($p)))")
}

// DecodeReadBack turns the output of a ReadBack command into file content.
func DecodeReadBack(output []byte, encoded bool) ([]byte, error) {
	if !encoded {
		return output, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(output)))
	if err != nil {
		return nil, fmt.Errorf("powershell: decode variables file: %w", err)
	}
	return data, nil
}

// ParseVariables parses side file content into a map. A leading byte order
// mark is ignored and records without a name are skipped.
func ParseVariables(data []byte) map[string]string {
	data = bytes.TrimPrefix(data, utf8BOM)
	vars := make(map[string]string)
	for _, record := range recordSeparator.Split(string(data), -1) {
		record = strings.TrimSuffix(strings.TrimSuffix(record, "\n"), "\r")
		name, value, ok := strings.Cut(record, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		vars[name] = value
	}
	return vars
}

// MaskValue returns Mask for secret values and value otherwise.
func MaskValue(value string, secret bool) string {
	if secret {
		return Mask
	}
	return value
}
