package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. Level comes from BALLOT_LOG_LEVEL and
// BALLOT_LOG_FORMAT_JSON switches the console writer for JSON lines.
// Logs go to stderr so command output on stdout stays clean.
func NewLogger() *zerolog.Logger {
	return newLogger(os.Stderr)
}

func newLogger(out io.Writer) *zerolog.Logger {
	zerolog.SetGlobalLevel(levelFromEnv())

	var logger zerolog.Logger
	if strings.TrimSpace(os.Getenv("BALLOT_LOG_FORMAT_JSON")) == "" {
		output := zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: time.RFC3339}
		output.FormatLevel = func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %s |", i))
		}
		output.FormatMessage = func(i interface{}) string {
			return fmt.Sprintf("%s", i)
		}
		logger = zerolog.New(output).With().Timestamp().Caller().Logger()
	} else {
		logger = zerolog.New(out).With().Timestamp().Caller().Logger()
	}
	return &logger
}

func levelFromEnv() zerolog.Level {
	switch strings.TrimSpace(os.Getenv("BALLOT_LOG_LEVEL")) {
	case "panic":
		return zerolog.PanicLevel
	case "fatal":
		return zerolog.FatalLevel
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}
