// Package logging provides the application logger.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Logger writes leveled messages with trailing key/value pairs rendered as
// key=value fields.
type Logger struct {
	l *log.Logger
}

// NewLogger creates a Logger writing to stdout.
func NewLogger() *Logger {
	return &Logger{l: log.New(os.Stdout, "", log.LstdFlags|log.LUTC)}
}

// NewWithWriter creates a Logger writing to w. Used by tests.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{l: log.New(w, "", log.LstdFlags|log.LUTC)}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, keyvals ...any) { l.write("DEBUG", msg, keyvals) }

// Info logs an informational message.
func (l *Logger) Info(msg string, keyvals ...any) { l.write("INFO", msg, keyvals) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, keyvals ...any) { l.write("WARN", msg, keyvals) }

// Error logs an error message.
func (l *Logger) Error(msg string, keyvals ...any) { l.write("ERROR", msg, keyvals) }

func (l *Logger) write(level, msg string, keyvals []any) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(": ")
	b.WriteString(msg)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		val := "MISSING"
		if i+1 < len(keyvals) {
			val = fmt.Sprint(keyvals[i+1])
		}
		fmt.Fprintf(&b, " %s=%s", key, val)
	}
	l.l.Print(b.String())
}
