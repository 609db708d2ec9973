// Package bootlog provides a minimal console logger for the narrow
// window before the gateway's flags and config are parsed and its real
// structured logger (pkg/logger) can be built. It is never used once
// startup completes.
package bootlog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a human-readable console logger writing to stderr.
func New() zerolog.Logger {
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(writer).With().Timestamp().Logger()
}

// Fatalf logs msg at error level with args and exits the process with
// status 1. Used for flag/config failures that happen before the real
// logger exists to report them.
func Fatalf(log zerolog.Logger, msg string, args ...any) {
	log.Error().Msgf(msg, args...)
	os.Exit(1)
}
