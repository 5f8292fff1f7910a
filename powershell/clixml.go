package powershell

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/smnsjas/go-psrpcore/serialization"
)

// clixmlHeader starts stderr that powershell.exe serialized as CLIXML.
const clixmlHeader = "#< CLIXML"

var clixmlEscape = regexp.MustCompile(`_[xX]([0-9A-Fa-f]{4})_`)

// DecodeCLIXML converts CLIXML-serialized stderr into plain text. String
// records are kept and progress records are dropped. Input that is not
// CLIXML, or fails to parse, is returned unchanged.
func DecodeCLIXML(data []byte) string {
	trimmed := bytes.TrimLeft(data, "\r\n\t ")
	if !bytes.HasPrefix(trimmed, []byte(clixmlHeader)) {
		return string(data)
	}
	body := trimmed[len(clixmlHeader):]

	var b strings.Builder
	for _, doc := range bytes.SplitAfter(body, []byte("</Objs>")) {
		doc = bytes.TrimSpace(doc)
		if len(doc) == 0 {
			continue
		}
		if err := decodeObjs(&b, doc); err != nil {
			return string(data)
		}
	}
	return b.String()
}

func decodeObjs(b *strings.Builder, doc []byte) error {
	d := serialization.NewDeserializer()
	defer d.Close()

	objs, err := d.Deserialize(doc)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		if s, ok := obj.(string); ok {
			b.WriteString(unescapeCLIXML(s))
		}
	}
	return nil
}

// unescapeCLIXML expands _xHHHH_ sequences such as _x000D__x000A_.
func unescapeCLIXML(s string) string {
	return clixmlEscape.ReplaceAllStringFunc(s, func(m string) string {
		code, err := strconv.ParseUint(m[2:6], 16, 16)
		if err != nil {
			return m
		}
		return string(rune(code))
	})
}
