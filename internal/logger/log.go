// Package logger configures the process-wide zerolog logger.
package logger

import (
	"io"
	stdlog "log"
	"os"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Options controls logger initialization.
type Options struct {
	Level  string    // zerolog level name; unknown values fall back to warn
	Pretty bool      // human-readable console output instead of JSON
	Out    io.Writer // defaults to os.Stderr; stdout carries the report
}

// Init replaces the global logger. Call it once at startup.
//
//	logger.Init(logger.Options{Level: "debug", Pretty: true})
//	log.Info().Msg("ingest started")
func Init(opts Options) zerolog.Logger {
	level := zerolog.WarnLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level))); err == nil && opts.Level != "" {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var w io.Writer = out
	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "mongoslow").
		Logger()

	zlog.Logger = logger

	// Route stdlib log output (e.g. from drivers) through zerolog.
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
	return logger
}
