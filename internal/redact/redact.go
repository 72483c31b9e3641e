package redact

import (
	"regexp"
	"strings"
)

var (
	bearerTokenRE = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+\b`)
	authHeaderRE  = regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)([^\n\r,;]+)`)
	apiKeyFieldRE = regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\n\r,;]+)`)
)

// Secrets masks the given keys plus anything that looks like a bearer token,
// an Authorization header or an api_key field.
func Secrets(s string, keys ...string) string {
	if s == "" {
		return s
	}
	out := s
	for _, k := range keys {
		if k != "" {
			out = strings.ReplaceAll(out, k, "[REDACTED]")
		}
	}
	out = bearerTokenRE.ReplaceAllString(out, "Bearer [REDACTED]")
	out = authHeaderRE.ReplaceAllString(out, "${1}[REDACTED]")
	out = apiKeyFieldRE.ReplaceAllString(out, "${1}[REDACTED]")
	return out
}

func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Body prepares a provider error body for logs and error messages.
func Body(b []byte, keys ...string) string {
	return Truncate(Secrets(strings.TrimSpace(string(b)), keys...), 400)
}

// Error masks keys in err's message and keeps err reachable through Unwrap.
func Error(err error, keys ...string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	red := Secrets(msg, keys...)
	if red == msg {
		return err
	}
	return &redactedError{msg: red, err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
