// Package logging provides structured logging using zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level represents log levels.
type Level = zerolog.Level

// Log levels exposed for convenience.
const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level Level
	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer
	// Pretty enables human-readable console output.
	Pretty bool
}

// Init initializes the global logger with the given configuration.
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        cfg.Output,
			TimeFormat: time.RFC3339,
		}
	}

	Logger = zerolog.New(output).
		Level(cfg.Level).
		With().
		Timestamp().
		Logger()
}

// ParseLevel parses a log level string (case-insensitive).
// Returns InfoLevel if the string is not recognized.
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Debug starts a new debug level log message.
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Info starts a new info level log message.
func Info() *zerolog.Event {
	return Logger.Info()
}

// Warn starts a new warn level log message.
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Error starts a new error level log message.
func Error() *zerolog.Event {
	return Logger.Error()
}

// With creates a child logger context with the given fields.
func With() zerolog.Context {
	return Logger.With()
}

// For returns a child logger tagged with a component name.
func For(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// init sets up a default logger so the package is usable without explicit initialization.
func init() {
	Init(Config{Level: InfoLevel})
}
