// pkg/logging/logging.go
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var logWriter io.Writer = zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: time.RFC3339,
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Configure sets up the global zerolog logger. Format "json" writes raw
// events to stderr; anything else uses the console writer. Debug level and
// below add caller information.
func Configure(levelStr, format string) error {
	level := parseLogLevel(levelStr)
	zerolog.SetGlobalLevel(level)

	w := logWriter
	if format == "json" {
		w = os.Stderr
	}

	logContext := zerolog.New(w).With().Timestamp()
	if level <= zerolog.DebugLevel {
		logContext = logContext.Caller()
	}

	log.Logger = logContext.Logger().Level(level)
	zerolog.DefaultContextLogger = &log.Logger
	return nil
}

// parseLogLevel converts a string log level to zerolog.Level.
func parseLogLevel(levelString string) zerolog.Level {
	if levelString == "" {
		levelString = "info"
	}
	level, err := zerolog.ParseLevel(strings.ToLower(levelString))
	if err != nil {
		log.Error().Err(err).
			Str("logLevel", levelString).
			Msg("Invalid log level provided. Defaulting to info level.")
		return zerolog.InfoLevel
	}
	return level
}

// SetLogWriter overrides the console destination, mainly for tests.
func SetLogWriter(w io.Writer) {
	logWriter = w
}
