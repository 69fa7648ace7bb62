package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"contact jane.doe@acme.com today", "contact [EMAIL_REDACTED] today"},
		{"call (555) 123-4567 or 555.987.6543", "call [PHONE_REDACTED] or [PHONE_REDACTED]"},
		{"ssn 123-45-6789", "ssn [SSN_REDACTED]"},
		{"card 4111 1111 1111 1111", "card [CARD_REDACTED]"},
		{"key sk-abcdefghijklmnopqrstuvwxyz012345", "key [API_KEY_REDACTED]"},
		{"token eyJhbGciOi.eyJzdWIiOi.c2lnbmF0dXJl", "token [JWT_REDACTED]"},
		{"secret 0123456789abcdef0123456789abcdef", "secret [API_KEY_REDACTED]"},
		{"doc 7f1c2a9e-4b6d-4e0a-9c3b-2d5e8f1a0b7c dated 2024-01-15", "doc 7f1c2a9e-4b6d-4e0a-9c3b-2d5e8f1a0b7c dated 2024-01-15"},
		{"liability capped at $120,000 USD", "liability capped at $120,000 USD"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Redact(tt.in))
		})
	}
}

func TestNewJSONRedactsAttributesAndMessage(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "debug", Format: "json", Output: &buf})
	require.NoError(t, err)

	log.Debug("sent to ops@example.com", "signer", "jane@acme.com", "error", errors.New("auth failed for sk-abcdefghijklmnopqrstuvwxyz"), "pages", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "sent to [EMAIL_REDACTED]", rec["msg"])
	assert.Equal(t, "[EMAIL_REDACTED]", rec["signer"])
	assert.Equal(t, "auth failed for [API_KEY_REDACTED]", rec["error"])
	assert.Equal(t, 3.0, rec["pages"])
}

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "warn", Output: &buf})
	require.NoError(t, err)
	log.Info("hidden")
	assert.Empty(t, buf.String())
	log.Warn("shown")
	assert.Contains(t, buf.String(), "msg=shown")

	_, err = New(Config{Level: "loud"})
	assert.Error(t, err)
	_, err = New(Config{Format: "xml"})
	assert.Error(t, err)

	level, err := ParseLevel("ERROR")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelError, level)
}
