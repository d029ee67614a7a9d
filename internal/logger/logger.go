// Package logger is a thin wrapper around zerolog.Logger. It adds the
// constructors the application needs and a Nop variant for tests.
//
// Logger embeds zerolog.Logger, so the full zerolog API (Debug, Info,
// Warn, Error, Fatal, ...) is available directly on *Logger.
package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type Logger struct {
	zerolog.Logger
}

// New constructs a JSON logger writing to stdout, tagged with a role label
// (e.g. "server", "worker") for filtering. Unknown level strings fall back
// to info.
func New(role, level string) *Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	l := zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Str("role", role).
		Timestamp().
		Logger()

	return &Logger{l}
}

// Nop returns a *Logger that discards all output. Intended for tests.
func Nop() *Logger {
	return &Logger{zerolog.Nop()}
}

// With returns a child logger carrying an extra string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{l.Logger.With().Str(key, value).Logger()}
}
