// Package logging provides session-based logging for the extraction
// pipeline, modeled on the teacher's atomic/logging session logger: full
// detail goes to a rotating session file, while only warnings, errors and
// explicit operator-facing lines surface on stderr. The CRF Strategy's
// diagnostic dump on a failed span (§4.6) and the Retrainer's
// accept/reject decisions (§4.9) are its primary callers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes to a session file and, selectively, to stderr.
type Logger struct {
	mu    sync.Mutex
	file  *os.File
	path  string
	quiet bool
}

// New creates a session logger writing to dir/session-<timestamp>.log.
// quiet suppresses Info-level console output; Warn and Error always
// surface on stderr.
func New(dir string, quiet bool) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create session dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("session-%s.log", time.Now().Format("20060102-150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open session file: %w", err)
	}
	l := &Logger{file: f, path: path, quiet: quiet}
	l.writeLine("INFO", "session started")
	return l, nil
}

// Path returns the session log file's path.
func (l *Logger) Path() string { return l.path }

// Close closes the session file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	fmt.Fprintf(l.file, "[%s] session ended\n", time.Now().Format("15:04:05"))
	return l.file.Close()
}

// Debug writes detail to the session file only.
func (l *Logger) Debug(format string, args ...any) {
	l.writeLine("DEBUG", fmt.Sprintf(format, args...))
}

// Info writes to the session file, and to stderr unless quiet.
func (l *Logger) Info(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.writeLine("INFO", msg)
	if !l.quiet {
		fmt.Fprintln(os.Stderr, msg)
	}
}

// Warn writes to the session file and always to stderr.
func (l *Logger) Warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.writeLine("WARN", msg)
	fmt.Fprintf(os.Stderr, "warning: %s\n", msg)
}

// Error writes to the session file and always to stderr.
func (l *Logger) Error(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.writeLine("ERROR", msg)
	fmt.Fprintf(os.Stderr, "error: %s\n", msg)
}

func (l *Logger) writeLine(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	fmt.Fprintf(l.file, "[%s] %s: %s\n", time.Now().Format("15:04:05"), level, msg)
}

// Discard is a Logger that writes nowhere, useful for tests and for
// callers that genuinely have no session directory.
func Discard() *Logger {
	return &Logger{file: nil, quiet: true}
}
