// Package qlog wraps the standard library logger with a thin struct around
// *log.Logger, named per reactor instance, so every dropped frame or
// reconnect attempt is attributable to a particular device.
package qlog

import (
	"io"
	"log"
)

// Logger is a per-reactor logger. The zero value is not usable; build one
// with New.
type Logger struct {
	*log.Logger
	name string
}

// New returns a Logger that prefixes every line with name and writes to w.
// Callers choose and open their own io.Writer so this package never
// terminates the process on the library's behalf.
func New(name string, w io.Writer) *Logger {
	return &Logger{
		Logger: log.New(w, "["+name+"] ", log.LstdFlags|log.Lmicroseconds),
		name:   name,
	}
}

// Name returns the identifying name this logger was constructed with.
func (l *Logger) Name() string { return l.name }

// Warnf logs a warning-level line. QMUX drops malformed frames and
// unknown-transaction replies rather than failing; this is the call site
// for both, and for failed reopen attempts.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Printf("WARN "+format, args...)
}

// Infof logs an informational line (reconnects, handshakes).
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Printf("INFO "+format, args...)
}

// Errorf logs an error-level line (device I/O errors).
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Printf("ERROR "+format, args...)
}
