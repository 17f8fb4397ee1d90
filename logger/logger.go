// Package logger builds the zerolog.Logger shared by llmctl and the provider clients.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Options selects where and how logs are written.
type Options struct {
	// File receives JSON logs when set. Takes precedence over Pretty.
	File string
	// Pretty uses zerolog's ConsoleWriter.
	Pretty bool
	// Level is the configured level. LOG_LEVEL, when set, wins.
	Level string
	// Output overrides stderr for console and default output.
	Output io.Writer
}

// InitWithOptions initializes the logger with the specified options.
// Log level can be configured via LOG_LEVEL environment variable (debug, info, warn, error).
// If logFile is empty, logs go to stderr; stdout carries command output.
// If pretty is true, uses ConsoleWriter for human-readable output (only valid when logFile is empty).
// A log file stays open for the life of the process; use New to close it.
func InitWithOptions(logFile string, pretty bool) (zerolog.Logger, error) {
	log, _, err := New(Options{File: logFile, Pretty: pretty})
	return log, err
}

// InitWithLevel is InitWithOptions with an explicit level, typically the
// config file's log_level.
func InitWithLevel(logFile string, pretty bool, configured string) (zerolog.Logger, error) {
	log, _, err := New(Options{File: logFile, Pretty: pretty, Level: configured})
	return log, err
}

// New builds a logger from opts. The returned Closer closes the log file, if one
// was opened; the logger must not be used afterwards.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	levelName := opts.Level
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		levelName = env
	}
	level := parseLogLevel(levelName)

	console := opts.Output
	if console == nil {
		console = os.Stderr
	}

	var (
		output io.Writer
		target string
		closer io.Closer = nopCloser{}
	)
	switch {
	case opts.File != "":
		//nolint:gosec // G304: User-specified log file path is intentional
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("failed to open log file %s: %w", opts.File, err)
		}
		output, target, closer = file, opts.File, file
	case opts.Pretty:
		output, target = zerolog.ConsoleWriter{Out: console}, "console"
	default:
		output, target = console, "stderr"
	}

	log := zerolog.New(output).Level(level).With().Timestamp().Logger()
	log.Debug().Str("output", target).Str("level", level.String()).Msg("Logger initialized")
	return log, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
