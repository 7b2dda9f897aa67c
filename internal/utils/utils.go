package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// --- 1. Process Safety & Command Wrapping ---

// stderrTailSize is how much of a child's stderr we keep for crash reports.
const stderrTailSize = 64 * 1024

// SafeCommand wraps a standard exec.Cmd and keeps the tail of its Stderr (Python logs)
// This ensures we don't lose critical crash information if a worker dies.
type SafeCommand struct {
	*exec.Cmd
	tail *TailBuffer
}

// NewSafeCommand initializes a command and attaches a bounded buffer to its Stderr.
// It prepares the command for execution but does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	tail := NewTailBuffer(stderrTailSize)
	cmd.Stderr = tail
	return &SafeCommand{Cmd: cmd, tail: tail}
}

// ForwardStderr additionally sends every stderr line to log, keeping the tail buffer.
// Must be called before Start.
func (s *SafeCommand) ForwardStderr(log *slog.Logger) {
	s.Cmd.Stderr = io.MultiWriter(s.tail, &LineLogger{Log: log})
}

// StderrTail returns the most recent stderr output.
func (s *SafeCommand) StderrTail() string {
	return s.tail.String()
}

// TailBuffer is an io.Writer that keeps only the last max bytes written to it.
type TailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

// NewTailBuffer returns a TailBuffer holding at most max bytes.
func NewTailBuffer(max int) *TailBuffer {
	return &TailBuffer{max: max}
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// Len returns the number of buffered bytes.
func (t *TailBuffer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf)
}

// LineLogger turns a child's stderr stream into log records, one per line.
// Python log levels found in the line select the record level.
type LineLogger struct {
	Log     *slog.Logger
	pending []byte
}

func (l *LineLogger) Write(p []byte) (int, error) {
	l.pending = append(l.pending, p...)
	for {
		i := bytes.IndexByte(l.pending, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(l.pending[:i]), "\r")
		l.pending = l.pending[i+1:]
		if line != "" {
			l.Log.Log(context.Background(), lineLevel(line), line, "source", "python")
		}
	}
	return len(p), nil
}

func lineLevel(line string) slog.Level {
	switch {
	case strings.Contains(line, "ERROR"), strings.Contains(line, "CRITICAL"), strings.HasPrefix(line, "Traceback"):
		return slog.LevelError
	case strings.Contains(line, "WARN"):
		return slog.LevelWarn
	case strings.Contains(line, "DEBUG"):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// --- 2. Fatal Reporting ---

// ShowError prints a formatted error box and dumps worker logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 OCRBRIDGE ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.tail.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nPYTHON CRASH LOGS:\n%s\n", s.StderrTail())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy: ShowError, then exit 1.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 3. Logging ---

// NewLogger builds the process logger. format is "text" or "json"; level is
// one of debug, info, warn, error.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (want text or json)", format)
	}
}
