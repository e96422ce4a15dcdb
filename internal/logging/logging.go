// Package logging provides a small per-engine logging sink so that
// discovery, http11, and castlink can log without depending on each
// other or on any process-wide mutable state (spec.md design note:
// "treat as a per-engine injected sink; no process-wide mutable state").
package logging

import (
	"fmt"
	"log"
	"os"
)

// Logger writes prefixed lines to an underlying *log.Logger, matching the
// "engine: message" convention used throughout the codebase (e.g.
// "discovery: query: sendQuery failed", "castlink: router: unmatched requestId").
type Logger struct {
	prefix string
	std    *log.Logger
}

// New returns a Logger that writes to os.Stderr with the given prefix.
func New(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		std:    log.New(os.Stderr, "", log.LstdFlags),
	}
}

// NewWithOutput returns a Logger writing to std, useful for tests that want
// to capture output.
func NewWithOutput(prefix string, std *log.Logger) *Logger {
	return &Logger{prefix: prefix, std: std}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.std.Printf("%s: debug: %s", l.prefix, fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.std.Printf("%s: %s", l.prefix, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.std.Printf("%s: warn: %s", l.prefix, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.std.Printf("%s: error: %s", l.prefix, fmt.Sprintf(format, args...))
}

// With returns a new Logger whose prefix is "parent:child", for sub-components
// (e.g. logging.New("castlink").With("router")).
func (l *Logger) With(child string) *Logger {
	return &Logger{prefix: l.prefix + ":" + child, std: l.std}
}
