package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Level represents the severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// LevelFromVerbosity maps the configured verbosity to the minimum level that
// gets written.
func LevelFromVerbosity(v int) Level {
	switch {
	case v <= 0:
		return LevelWarn
	case v == 1:
		return LevelInfo
	default:
		return LevelDebug
	}
}

var consoleStyles = map[Level]lipgloss.Style{
	LevelDebug: lipgloss.NewStyle().Faint(true),
	LevelInfo:  lipgloss.NewStyle(),
	LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
}

// sink is the shared destination of a logger and its scoped children.
type sink struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	console io.Writer
	now     func() time.Time
}

// Logger appends timestamped lines to the run log inside the save directory
// and optionally mirrors them to a console writer.
type Logger struct {
	sink   *sink
	min    Level
	prefix string
}

// Option customizes a Logger.
type Option func(*Logger)

// WithConsole mirrors entries to w (styled per level).
func WithConsole(w io.Writer) Option {
	return func(l *Logger) {
		l.sink.console = w
	}
}

// WithLevel sets the minimum level written.
func WithLevel(level Level) Option {
	return func(l *Logger) {
		l.min = level
	}
}

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.sink.now = now
		}
	}
}

// New creates (or reuses) the log file at path.
func New(path string, opts ...Option) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	l := &Logger{sink: &sink{path: path, file: f, now: time.Now}, min: LevelInfo}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Console returns a logger that only writes to w.
func Console(w io.Writer, level Level) *Logger {
	return &Logger{sink: &sink{console: w, now: time.Now}, min: level}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return nil
}

// With returns a logger sharing the same destination whose lines carry the
// given scope, e.g. a component name.
func (l *Logger) With(scope string) *Logger {
	if l == nil {
		return nil
	}
	prefix := strings.TrimSpace(scope)
	if l.prefix != "" && prefix != "" {
		prefix = l.prefix + "/" + prefix
	} else if prefix == "" {
		prefix = l.prefix
	}
	return &Logger{sink: l.sink, min: l.min, prefix: prefix}
}

// Path returns the file backing this logger.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.sink.path
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.sink.file == nil {
		return nil
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	err := l.sink.file.Close()
	l.sink.file = nil
	return err
}

// Append writes a single entry when level passes the threshold.
func (l *Logger) Append(level Level, message string) {
	if l == nil || level < l.min {
		return
	}
	message = strings.TrimSpace(message)
	if l.prefix != "" {
		message = "[" + l.prefix + "] " + message
	}
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	line := fmt.Sprintf("%s %-5s %s\n", s.now().UTC().Format(time.RFC3339), level.String(), message)
	if s.file != nil {
		_, _ = s.file.WriteString(line)
	}
	if s.console != nil {
		style := consoleStyles[level]
		fmt.Fprintln(s.console, style.Render(strings.TrimRight(line, "\n")))
	}
}

// Printf writes an informational entry.
func (l *Logger) Printf(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Debug appends a debug entry.
func (l *Logger) Debug(format string, args ...any) {
	l.Append(LevelDebug, fmt.Sprintf(format, args...))
}

// Info appends an informational entry.
func (l *Logger) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logger) Warn(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logger) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}

// Tail returns up to maxLines of the most recent entries in the log file and
// the total number of entries.
func (l *Logger) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 || l.sink.path == "" {
		return nil, 0
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	file, err := os.Open(l.sink.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	total := len(lines)
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}
