package client

import "strings"

// maxLoggedScript is the longest script prefix written to logs.
const maxLoggedScript = 100

// sensitivePatterns mark scripts that are never logged, even truncated.
var sensitivePatterns = []string{
	"password",
	"credential",
	"secret",
	"apikey",
	"api_key",
	"accesstoken",
	"access_token",
	"convertto-securestring",
	"pscredential",
}

// containsSensitivePattern reports whether s mentions a credential-like term.
func containsSensitivePattern(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range sensitivePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// sanitizeScriptForLogging returns a log-safe rendering of script.
func sanitizeScriptForLogging(script string) string {
	if containsSensitivePattern(script) {
		return "[script contains sensitive data - not logged]"
	}
	if len(script) > maxLoggedScript {
		return script[:maxLoggedScript] + "... [truncated]"
	}
	return script
}
