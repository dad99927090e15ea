// Package logger provides charmbracelet/log loggers for the packages of hound.
// Everything goes to stderr; stdout is reserved for the IPC protocol.
package logger

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// New creates a charm logger with prefix that follows the global log level.
func New(prefix string) *log.Logger {
	return NewWithConfig(os.Stderr, prefix, log.GetLevel(), false, log.GetLevel() <= log.DebugLevel, log.TextFormatter)
}

// NewWithConfig creates a charm logger with custom config.
func NewWithConfig(w io.Writer, prefix string, level log.Level, caller bool, showTimestamp bool, fmt log.Formatter) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Prefix:          prefix,
		Level:           level,
		ReportCaller:    caller,
		ReportTimestamp: showTimestamp,
		Formatter:       fmt,
	})
}

// Setup configures the package level logger used across hound.
func Setup(debug bool, json bool) {
	log.SetDefault(log.NewWithOptions(os.Stderr, log.Options{}))
	if json {
		log.SetFormatter(log.JSONFormatter)
	}
	if debug {
		log.SetLevel(log.DebugLevel)
		log.SetReportTimestamp(true)
	} else {
		log.SetLevel(log.WarnLevel)
	}
}
