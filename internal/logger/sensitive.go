package logger

import (
	"regexp"
	"strings"
)

var sensitiveDataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	regexp.MustCompile(`(?i)((api|access|auth|token|secret|passw(or)?d)[0-9a-z\-_\.]*[\s:=]+)([^;,\s]{5,})`),
	regexp.MustCompile(`(?i)(nats|mqtt|tcp|ssl|tls|ws|wss)://([^:@/\s]+):([^@/\s]+)@`),
}

var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey", "authorization", "dsn",
}

// RedactSensitiveData masks credentials in free text, such as broker URLs
// with embedded passwords.
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for i, pattern := range sensitiveDataPatterns {
		if i == len(sensitiveDataPatterns)-1 {
			input = pattern.ReplaceAllString(input, "$1://$2:[REDACTED]@")
			continue
		}
		input = pattern.ReplaceAllString(input, "${1}[REDACTED]")
	}
	return input
}

// Sensitive builds a string field, masking the value when the key names a secret.
func Sensitive(key, value string) Field {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			if value != "" {
				value = "[REDACTED]"
			}
			return String(key, value)
		}
	}
	return String(key, RedactSensitiveData(value))
}
