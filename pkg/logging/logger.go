// Package logging configures zerolog for scrapekit components.
//
// Every component obtains its logger through NewLogger so that log lines
// carry a "component" field. Batch code derives per-item loggers with ForItem.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

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

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel `yaml:"level"`

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool `yaml:"pretty"`

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer `yaml:"-"`
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
// Loggers created by NewLogger afterwards inherit its output and level.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel validates a user supplied level name.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
	}
}

// parseLevel converts LogLevel to zerolog.Level, defaulting to info.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
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

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForItem returns a child of logger tagged with a batch item id.
func ForItem(logger zerolog.Logger, itemID string) zerolog.Logger {
	return logger.With().Str("item_id", itemID).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache lookups (hit/miss, key, TTL)
//   - Rate limiter waits
//   - Retry scheduling per item
//
// Info: Normal operation events
//   - Batch start and completion summaries
//   - Checkpoint writes and resumes
//   - Cache maintenance (clear, cleanup)
//
// Warn: Warning conditions that don't prevent operation
//   - Transient and rate-limited item failures being retried
//   - Corrupt cache entries (treated as misses)
//   - Checkpoint write failures (resume may be impaired)
//
// Error: Error conditions requiring attention
//   - Items that exhausted their retries
//   - Permanent item failures
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (batch, cache, ratelimit, fetch)
//   - item_id: batch item identifier
//   - attempt: work function invocation number
//   - error_class: rate_limit, transient, permanent, cancelled
//   - cache_key: logical cache key
//   - checkpoint: checkpoint file path
//   - wait / backoff: time spent blocked
