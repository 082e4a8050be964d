package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLoggerLogLevel(t *testing.T) {
	assert := assert.New(t)

	tests := []struct {
		logLevel string
		expected string
	}{
		{logLevel: "info", expected: "info"},
		{logLevel: "warn", expected: "warn"},
		{logLevel: "debug", expected: "debug"},
		{logLevel: "error", expected: "error"},
		{logLevel: "fatal", expected: "fatal"},
		{logLevel: "trace", expected: "trace"},
		{logLevel: "panic", expected: "panic"},
		{logLevel: " debug ", expected: "debug"},
		{logLevel: "plop", expected: "info"},
	}

	for _, tc := range tests {
		t.Setenv("BALLOT_LOG_LEVEL", tc.logLevel)
		NewLogger()
		assert.Equal(tc.expected, zerolog.GlobalLevel().String())
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func TestLoggerJSONFormat(t *testing.T) {
	t.Setenv("BALLOT_LOG_LEVEL", "info")
	t.Setenv("BALLOT_LOG_FORMAT_JSON", "true")

	var buf bytes.Buffer
	logger := newLogger(&buf)
	logger.Info().Str("election", "3").Msg("Testing logger")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Testing logger", line["message"])
	assert.Equal(t, "3", line["election"])
	assert.Contains(t, line, "time")
	assert.Contains(t, line, "caller")
}

func TestLoggerConsoleFormat(t *testing.T) {
	t.Setenv("BALLOT_LOG_LEVEL", "info")
	t.Setenv("BALLOT_LOG_FORMAT_JSON", "")

	var buf bytes.Buffer
	logger := newLogger(&buf)
	logger.Info().Msg("Testing logger")
	logger.Debug().Msg("hidden")

	assert.Contains(t, buf.String(), "| INFO |")
	assert.Contains(t, buf.String(), "Testing logger")
	assert.NotContains(t, buf.String(), "hidden")
}
