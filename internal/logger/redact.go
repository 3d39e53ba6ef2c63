package logger

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// Redactor masks secrets in log messages and fields
type Redactor struct {
	sensitiveKeys []string
	patterns      []*regexp.Regexp
}

// DefaultRedactor masks credentials, cookies, API keys and JWTs
func DefaultRedactor() *Redactor {
	return &Redactor{
		sensitiveKeys: []string{
			"password", "secret", "token", "authorization",
			"cookie", "api_key", "apikey", "sessionid", "bearer",
		},
		patterns: []*regexp.Regexp{
			// JWT
			regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`),
			// API keys issued by this service
			regexp.MustCompile(`mfk_[A-Za-z0-9]+_[A-Za-z0-9]+`),
			// Cookie-style session values
			regexp.MustCompile(`(?i)(sessionid|auth_token|ct0)=[^;\s&]+`),
		},
	}
}

// RedactFields returns a copy of fields with sensitive values masked
func (r *Redactor) RedactFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if r.sensitiveKey(k) {
			out[k] = redacted
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = r.Redact(s)
			continue
		}
		out[k] = v
	}
	return out
}

// Redact masks secrets that appear inside free text
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.ReplaceAllString(s, redacted)
	}
	return s
}

func (r *Redactor) sensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range r.sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
