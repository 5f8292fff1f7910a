package powershell

import "strings"

// Executable is the interpreter every framed command starts.
const Executable = "powershell"

// Parameter is an extra powershell.exe command-line parameter. An empty Value
// renders as a switch.
type Parameter struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value,omitempty"`
}

// String renders the parameter as it appears on the command line.
func (p Parameter) String() string {
	name := p.Name
	if !strings.HasPrefix(name, "-") {
		name = "-" + name
	}
	if p.Value == "" {
		return name
	}
	value := p.Value
	if strings.ContainsAny(value, " \t") {
		value = `"` + value + `"`
	}
	return name + " " + value
}

// Invocation describes how powershell.exe is started for every framed command.
type Invocation struct {
	// NoProfile adds -NoProfile.
	NoProfile bool

	// Parameters follow the fixed flags in order.
	Parameters []Parameter
}

// String returns the interpreter prefix, e.g.
// "powershell -NonInteractive -ExecutionPolicy Bypass -NoProfile".
func (inv Invocation) String() string {
	var b strings.Builder
	b.WriteString(Executable)
	b.WriteString(" -NonInteractive -ExecutionPolicy Bypass")
	if inv.NoProfile {
		b.WriteString(" -NoProfile")
	}
	for _, p := range inv.Parameters {
		if p.Name == "" {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(p.String())
	}
	return b.String()
}

// Command wraps a PowerShell expression in a -Command invocation. The
// expression must not contain double quotes.
func (inv Invocation) Command(expr string) string {
	return inv.String() + ` -Command "` + expr + `"`
}

// quote renders s as a single-quoted PowerShell literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// expandPath returns an expression that resolves %VAR% references in path on
// the host before use.
func expandPath(path string) string {
	return "[Environment]::ExpandEnvironmentVariables(" + quote(path) + ")"
}
