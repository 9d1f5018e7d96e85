// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// PrettyMode selects console or JSON output.
type PrettyMode string

const (
	// PrettyAuto uses console output when the writer is a terminal.
	PrettyAuto PrettyMode = "auto"

	// PrettyOn always uses console output.
	PrettyOn PrettyMode = "true"

	// PrettyOff always uses JSON output.
	PrettyOff PrettyMode = "false"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty selects human-readable console output (default: auto).
	Pretty PrettyMode

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: PrettyAuto,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level := ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	var output io.Writer = cfg.Output
	if usePretty(cfg.Pretty, cfg.Output) {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()

	log.Logger = logger

	return logger
}

// usePretty resolves the pretty mode against the actual writer.
func usePretty(mode PrettyMode, w io.Writer) bool {
	switch PrettyMode(strings.ToLower(string(mode))) {
	case PrettyOn, "1", "yes":
		return true
	case PrettyOff, "0", "no":
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// ParseLevel converts LogLevel to zerolog.Level.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Request URLs and response classification
//   - Sink flushes and column resolution
//
// Info: Normal operation events
//   - One line per merged item (id, name, batch)
//   - One summary line per batch
//   - Shared backoff windows recorded or honored
//   - Dump download progress
//
// Warn: Warning conditions that don't prevent operation
//   - Retryable failures before each fixed wait
//   - Shared backoff store unreachable (run continues locally)
//
// Error: Error conditions requiring attention
//   - Fatal transport, parse and consistency faults
//   - Configuration errors
//
// Context Fields:
//   - component: package emitting the event
//   - run_id: uuid of the enrich run
//   - batch: batch number (1-based)
//   - id: catalog item id
//   - status: HTTP status code
//   - error_class: client, server, rate_limit, queued, network, canceled
//   - wait: backoff duration
