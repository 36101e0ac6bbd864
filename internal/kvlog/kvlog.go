// Package kvlog provides the structured logger shared by the engine,
// compactor, and server. Logging is process-global configuration, not
// part of the storage engine's core correctness contract (spec.md §9).
package kvlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the package-wide structured logger. Components take it
// as a dependency rather than reaching for this global directly, so
// tests can inject a silent logger.
var Logger = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// New returns a fresh logger with the same default formatting,
// useful for components that want their own *logrus.Logger instance
// (e.g. tests that want to assert against captured output).
func New() *logrus.Logger {
	return newDefault()
}

// Discard returns a logger that drops everything, for tests that
// don't want log noise.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.PanicLevel)
	return l
}
