package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const serviceName = "brokerage-api"

// New builds the process logger. Development gets a human-readable console
// writer at debug level, every other environment gets JSON at info level.
func New(environment string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "", "development", "dev", "local":
		writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		return zerolog.New(writer).
			Level(zerolog.DebugLevel).
			With().
			Timestamp().
			Str("service", serviceName).
			Logger()
	default:
		return zerolog.New(os.Stdout).
			Level(zerolog.InfoLevel).
			With().
			Timestamp().
			Str("service", serviceName).
			Logger()
	}
}
