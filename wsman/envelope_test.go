package wsman

import (
	"strings"
	"testing"
)

// TestEnvelope_Headers verifies the builder renders every header it sets.
func TestEnvelope_Headers(t *testing.T) {
	endpoint := "https://winhost:5986/wsman"

	env := NewEnvelope().
		WithAction(ActionCommand).
		WithTo(endpoint).
		WithResourceURI(ResourceURIWinRS).
		WithMessageID("uuid:msg-1").
		WithReplyTo(AddressAnonymous).
		WithMaxEnvelopeSize(153600).
		WithOperationTimeout("PT60S").
		WithSessionID("uuid:session-1").
		WithLocale("en-US").
		WithDataLocale("en-US").
		WithShellNamespace().
		WithSelector("ShellId", "shell-1").
		WithOption(OptionNoProfile, "TRUE")

	raw, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	xmlStr := string(raw)

	for _, want := range []string{
		`xmlns:s="` + NsSoap + `"`,
		`xmlns:a="` + NsAddressing + `"`,
		`xmlns:w="` + NsWsman + `"`,
		`xmlns:p="` + NsWsmanMicrosoft + `"`,
		`xmlns:rsp="` + NsShell + `"`,
		`<a:Action>` + ActionCommand + `</a:Action>`,
		`<a:To>` + endpoint + `</a:To>`,
		`<a:MessageID>uuid:msg-1</a:MessageID>`,
		`<a:Address s:mustUnderstand="true">` + AddressAnonymous + `</a:Address>`,
		`<w:ResourceURI>` + ResourceURIWinRS + `</w:ResourceURI>`,
		`<w:MaxEnvelopeSize s:mustUnderstand="true">153600</w:MaxEnvelopeSize>`,
		`<w:OperationTimeout>PT60S</w:OperationTimeout>`,
		`<p:SessionId s:mustUnderstand="false">uuid:session-1</p:SessionId>`,
		`<w:Locale xml:lang="en-US" s:mustUnderstand="false"></w:Locale>`,
		`<w:Selector Name="ShellId">shell-1</w:Selector>`,
		`<w:Option Name="WINRS_NOPROFILE">TRUE</w:Option>`,
	} {
		if !strings.Contains(xmlStr, want) {
			t.Errorf("envelope missing %s\n%s", want, xmlStr)
		}
	}
}

// TestEnvelope_OmitsUnsetHeaders verifies optional headers are not rendered.
func TestEnvelope_OmitsUnsetHeaders(t *testing.T) {
	raw, err := NewEnvelope().WithAction(ActionDelete).Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	xmlStr := string(raw)

	for _, absent := range []string{"SelectorSet", "OptionSet", "xmlns:rsp", "OperationTimeout", "SessionId"} {
		if strings.Contains(xmlStr, absent) {
			t.Errorf("envelope should not contain %s\n%s", absent, xmlStr)
		}
	}
}

// TestEnvelope_BodyIsVerbatim verifies body content is embedded without re-encoding.
func TestEnvelope_BodyIsVerbatim(t *testing.T) {
	body := `<rsp:Receive><rsp:DesiredStream CommandId="c1">stdout stderr</rsp:DesiredStream></rsp:Receive>`
	raw, err := NewEnvelope().WithBody([]byte(body)).Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(raw), "<s:Body>"+body+"</s:Body>") {
		t.Errorf("body not embedded verbatim:\n%s", raw)
	}
}
