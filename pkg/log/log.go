package log

import (
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Init replaces it; until then it writes
// JSON to stdout at info level.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Level is a configured log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init configures the global logger
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(string(ParseLevel(string(cfg.Level))))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// ForResource tags a component logger with the resource being reconciled
func ForResource(l zerolog.Logger, id uuid.UUID) zerolog.Logger {
	return l.With().Str("resource_id", id.String()).Logger()
}

// ForWorkspace tags a component logger with the workspace it serves
func ForWorkspace(l zerolog.Logger, id uuid.UUID) zerolog.Logger {
	return l.With().Str("workspace_id", id.String()).Logger()
}

// ParseLevel maps a configuration string onto a Level, defaulting to info
func ParseLevel(s string) Level {
	switch Level(s) {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
		return Level(s)
	}
	return InfoLevel
}

// LogrSink returns a logr.Logger that forwards into the global logger at
// debug level. Kubernetes client libraries log through logr.
func LogrSink(component string) logr.Logger {
	zl := WithComponent(component)
	return funcr.New(func(prefix, args string) {
		ev := zl.Debug()
		if prefix != "" {
			ev = ev.Str("logger", prefix)
		}
		ev.Msg(args)
	}, funcr.Options{})
}
