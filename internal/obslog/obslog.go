// Package obslog provides the server's structured logger: a slog.Logger
// backed by a self-rotating file, in the spirit of the original's
// RotatingFileHandler(maxBytes=10MB, backupCount=5). No rotation library
// appears anywhere in the retrieved example pack, so rotation is
// implemented directly against os.Rename, the same primitive
// store/container.go's atomicWriteFile uses for atomic file replacement.
package obslog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const (
	maxBytes    = 10 * 1024 * 1024
	backupCount = 5
)

// rotatingWriter is an io.Writer that rolls server.log to server.log.1,
// server.log.1 to server.log.2, ... once the active file exceeds maxBytes.
type rotatingWriter struct {
	mu   sync.Mutex
	path string
	size int64
	file *os.File
}

func newRotatingWriter(path string) (*rotatingWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	return &rotatingWriter{path: path, size: info.Size(), file: f}, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	for i := backupCount - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", w.path, i)
		newPath := fmt.Sprintf("%s.%d", w.path, i+1)
		if _, err := os.Stat(oldPath); err == nil {
			_ = os.Rename(oldPath, newPath)
		}
	}
	if _, err := os.Stat(w.path); err == nil {
		_ = os.Rename(w.path, w.path+".1")
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("reopen log file: %w", err)
	}
	w.file = f
	w.size = 0
	return nil
}

// LevelCritical sits one step above slog.LevelError, matching the
// original's CRITICAL severity for integrity failures.
const LevelCritical = slog.LevelError + 4

// New builds the process logger. path is the server.log location;
// passing "" logs JSON lines to stderr only (used by tests and the CLI).
func New(path string) (*slog.Logger, error) {
	var w io.Writer = os.Stderr
	if path != "" {
		rw, err := newRotatingWriter(path)
		if err != nil {
			return nil, err
		}
		w = io.MultiWriter(os.Stderr, rw)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelCritical {
					a.Value = slog.StringValue("CRITICAL")
				}
			}
			return a
		},
	})
	return slog.New(h), nil
}

// Sanitize strips control characters and escapes newlines out of values
// that originate from user input before they reach a log call, preventing
// log injection — the Go equivalent of sanitize_log_input.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r':
			b.WriteString("\\n")
		case r == 0x1b: // ANSI escape
			continue
		case r < 0x20:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
