// Package monitoring carries the ambient structured logging and
// Prometheus metrics every Node process needs, adapted from the
// single-process monitoring package's zerolog setup and the root
// metrics registration file.
package monitoring

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel is the minimum severity a logger emits.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// LogFormat selects the logger's output encoding.
type LogFormat int

const (
	LogFormatJSON LogFormat = iota
	LogFormatPretty
)

// LoggerConfig holds logger configuration.
type LoggerConfig struct {
	Level  LogLevel
	Format LogFormat
	NodeId string
}

// NewLogger builds a zerolog.Logger with a timestamp, caller info, and
// a node_id field every log line carries, so multiple Node processes
// sharing one log sink stay attributable.
func NewLogger(config LoggerConfig) zerolog.Logger {
	var output io.Writer = os.Stdout

	var level zerolog.Level
	switch config.Level {
	case LogLevelDebug:
		level = zerolog.DebugLevel
	case LogLevelInfo:
		level = zerolog.InfoLevel
	case LogLevelWarn:
		level = zerolog.WarnLevel
	case LogLevelError:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if config.Format == LogFormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("component", "zcbus").
		Str("node_id", config.NodeId).
		Logger()
}
