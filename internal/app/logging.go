// Package app wires the settings engine into the two process roles: the
// owner, which holds the settings file and the bridge endpoint, and the
// editor, which batches user edits and reports save status.
package app

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// LoggerConfig configures the logger.
type LoggerConfig struct {
	// Level is the minimum log level to output.
	Level hclog.Level
	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer
	// Name is the root logger name.
	Name string
	// JSON switches to JSON lines.
	JSON bool
}

// DefaultLoggerConfig returns the default logger configuration.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:  hclog.Info,
		Output: os.Stderr,
		Name:   "settingsync",
	}
}

// ParseLogLevel parses a level name. Unknown names map to info.
func ParseLogLevel(s string) hclog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return hclog.Trace
	case "debug":
		return hclog.Debug
	case "warn", "warning":
		return hclog.Warn
	case "error":
		return hclog.Error
	case "off":
		return hclog.Off
	default:
		return hclog.Info
	}
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg LoggerConfig) hclog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Level == hclog.NoLevel {
		cfg.Level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       cfg.Name,
		Level:      cfg.Level,
		Output:     cfg.Output,
		JSONFormat: cfg.JSON,
		Color:      hclog.AutoColor,
	})
}
