// Package logging builds the slog loggers used across the module. Every
// string attribute and message passes through PII redaction.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

type Config struct {
	Level  string
	Format string // "text" or "json"
	Output io.Writer
}

type redaction struct {
	re          *regexp.Regexp
	replacement string
}

// Applied in order: the more specific token shapes first so the generic
// key pattern does not swallow them.
var redactions = []redaction{
	{regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`), "[JWT_REDACTED]"},
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}`), "[API_KEY_REDACTED]"},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[EMAIL_REDACTED]"},
	{regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`), "[CARD_REDACTED]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN_REDACTED]"},
	{regexp.MustCompile(`(?:\+?1[-. ]?)?(?:\(\d{3}\)\s?|\b\d{3}[-.])\d{3}[-.]\d{4}\b`), "[PHONE_REDACTED]"},
	{regexp.MustCompile(`\b[A-Za-z0-9]{32,}\b`), "[API_KEY_REDACTED]"},
}

// Redact masks e-mail addresses, phone numbers, SSNs, card numbers, API
// keys and JWTs in s.
func Redact(s string) string {
	for _, r := range redactions {
		s = r.re.ReplaceAllString(s, r.replacement)
	}
	return s
}

func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

func New(config Config) (*slog.Logger, error) {
	level := slog.LevelInfo
	if config.Level != "" {
		l, err := ParseLevel(config.Level)
		if err != nil {
			return nil, err
		}
		level = l
	}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redactAttr}

	switch strings.ToLower(config.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(out, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", config.Format)
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, Redact(a.Value.String()))
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, Redact(err.Error()))
		}
	}
	return a
}
