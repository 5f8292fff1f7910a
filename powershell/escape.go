package powershell

import "strings"

// Escape prepares one script line for embedding in a double-quoted
// PowerShell string inside a cmd.exe command line:
//
//   - ` becomes ``
//   - $ becomes `$
//   - " becomes `\"
//   - ^ | & < > become ^^ ^| ^& ^< ^> where cmd.exe reads them unquoted
//
// cmd.exe toggles its quote state on every double quote it sees, and the
// embedded text starts outside quotes. Inside a quoted literal such as
// "a | b" the operators are left alone, since cmd.exe would keep the caret.
func Escape(line string) string {
	var b strings.Builder
	b.Grow(len(line) + len(line)/4)
	quoted := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch c {
		case '`':
			b.WriteString("``")
		case '$':
			b.WriteString("`$")
		case '"':
			b.WriteString("`\\\"")
			quoted = !quoted
		case '^', '|', '&', '<', '>':
			if !quoted {
				b.WriteByte('^')
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// EscapeText is Escape for arbitrary text: line breaks are additionally
// written as `r and `n so the text stays on one command line.
func EscapeText(text string) string {
	s := Escape(text)
	s = strings.ReplaceAll(s, "\r", "`r")
	return strings.ReplaceAll(s, "\n", "`n")
}

// Unescape reverses EscapeText the way the host reads it back: cmd.exe
// removes carets outside quotes, powershell.exe turns \" into ", and the
// PowerShell string drops backtick escapes.
func Unescape(s string) string {
	return unescapeBackticks(strings.ReplaceAll(unescapeCarets(s), `\"`, `"`))
}

// unescapeCarets applies cmd.exe's caret rule, which only holds outside
// double quotes.
func unescapeCarets(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	quoted := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			quoted = !quoted
			b.WriteByte(c)
		case c == '^' && !quoted && i+1 < len(s):
			b.WriteByte(s[i+1])
			i++
		case c == '^' && !quoted:
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func unescapeBackticks(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '`' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
