// Package logger configures the process-wide zerolog logger used by the
// gateway, agent, and worker binaries, and hands out component-scoped
// child loggers the way api/internal/logger does for the control plane.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger. Initialize must be called once at
// startup before any component logger is used.
var Log zerolog.Logger

// Initialize sets the global level and output format.
//
// level is parsed with zerolog.ParseLevel; an unrecognized value falls
// back to info rather than failing startup over a logging typo. pretty
// selects a human-readable console writer for local runs; the default
// is line-delimited JSON, suitable for the audit and operational
// pipelines this gateway feeds.
func Initialize(service, level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	var w = os.Stderr
	var base zerolog.Logger
	if pretty {
		base = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		base = zerolog.New(w).With().Timestamp().Logger()
	}

	Log = base.With().Str("service", service).Logger()
	Log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
}

// Component returns a child logger tagged with a "component" field, used
// to keep e.g. supervisor and audit log lines distinguishable without
// re-stating the field at every call site.
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}
