package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSetLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	testCases := []struct {
		name     string
		logLevel string
		expected string
	}{
		{"trace", "trace", "trace"},
		{"debug", "debug", "debug"},
		{"info", "info", "info"},
		{"warn", "warn", "warn"},
		{"error", "error", "error"},
		{"unknown", "chatty", "info"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			SetLevel(tc.logLevel)
			assert.Equal(t, tc.expected, zerolog.GlobalLevel().String())
		})
	}
}

func TestSetupLoggerWithWriter(t *testing.T) {
	defer SetupLogger()
	var buf bytes.Buffer
	SetupLoggerWithWriter(&buf)
	logger := GetLogger()
	logger.Error().Str("url", "https://example.test/a.pdf").Msg("Download failed")

	out := buf.String()
	assert.Contains(t, out, "| ERROR |")
	assert.Contains(t, out, "[ Download failed ]")
	assert.Contains(t, out, "url=https://example.test/a.pdf")
	assert.NotContains(t, out, "\x1b[")
}
