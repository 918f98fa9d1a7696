package logger

import (
	"regexp"
	"strings"
)

const redactedValue = "[REDACTED]"

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// sensitiveDataPatterns match secrets embedded in free-form strings
var sensitiveDataPatterns = []redaction{
	// Bearer tokens
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9-._~+/]+=*`), "${1}" + redactedValue},
	// access_token=..., api_key: ..., dsn=...
	{regexp.MustCompile(`(?i)((?:access_token|api[_-]?key|token|secret|dsn|passw(?:or)?d)[\s:=]+)[^;,&\s]{5,}`), "${1}" + redactedValue},
	// Mapbox public and secret tokens
	{regexp.MustCompile(`\b[ps]k\.[A-Za-z0-9._-]{20,}`), redactedValue},
	// Credentials in URLs such as mysql or sentry DSNs
	{regexp.MustCompile(`(://[^:/@\s]+:)[^@\s]+@`), "${1}" + redactedValue + "@"},
}

// sensitiveKeywords mark field keys whose string values are always redacted
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey", "dsn", "authorization",
}

// RedactSensitiveData replaces embedded secrets in input with [REDACTED]
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, r := range sensitiveDataPatterns {
		input = r.pattern.ReplaceAllString(input, r.replacement)
	}
	return input
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
