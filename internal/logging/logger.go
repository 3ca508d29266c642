// Package logging appends timestamped run logs under the project control
// directory so failures can be inspected after the terminal is gone.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Logger writes timestamped lines to a log file and optionally echoes them
// to a secondary writer (usually stderr).
type Logger struct {
	file *os.File
	echo io.Writer
}

// New creates (or reuses) the log file under dir. A nil echo disables
// echoing.
func New(dir string, echo io.Writer) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(dir, "taskloop.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{file: f, echo: echo}, nil
}

// Discard returns a logger that writes nowhere. Handy in tests.
func Discard() *Logger {
	return &Logger{}
}

// Infof records an informational line.
func (l *Logger) Infof(format string, args ...any) {
	l.write("INFO", format, args...)
}

// Warnf records a warning.
func (l *Logger) Warnf(format string, args ...any) {
	l.write("WARN", format, args...)
}

// Errorf records an error.
func (l *Logger) Errorf(format string, args ...any) {
	l.write("ERROR", format, args...)
}

func (l *Logger) write(level, format string, args ...any) {
	if l == nil {
		return
	}
	line := fmt.Sprintf("%s %-5s %s\n", time.Now().Format(time.RFC3339), level, fmt.Sprintf(format, args...))
	if l.file != nil {
		_, _ = l.file.WriteString(line)
	}
	if l.echo != nil {
		_, _ = io.WriteString(l.echo, line)
	}
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
