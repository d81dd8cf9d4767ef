package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogEntry is a captured warning or error, replayed in the run summary.
// Detail carries the record's table, object and error attributes.
type LogEntry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Detail  string
}

// summaryAttrs are the attributes copied into LogEntry.Detail, in order.
var summaryAttrs = []string{"table", "object", "path", "error"}

// ringBuffer is a fixed-size circular buffer for log entries.
type ringBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	size    int
	head    int
	count   int

	warnCount  int
	errorCount int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{
		entries: make([]LogEntry, size),
		size:    size,
	}
}

func (rb *ringBuffer) add(entry LogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	if entry.Level == slog.LevelWarn {
		rb.warnCount++
	} else if entry.Level >= slog.LevelError {
		rb.errorCount++
	}
}

func (rb *ringBuffer) getAll() []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]LogEntry, rb.count)
	for i := 0; i < rb.count; i++ {
		idx := (rb.head - rb.count + i + rb.size) % rb.size
		result[i] = rb.entries[idx]
	}
	return result
}

func (rb *ringBuffer) getCounts() (warn, err int) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.warnCount, rb.errorCount
}

// summaryHandler wraps another handler and captures warnings and errors.
type summaryHandler struct {
	inner  slog.Handler
	buffer *ringBuffer
}

func (h *summaryHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *summaryHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		h.buffer.add(LogEntry{
			Time:    r.Time,
			Level:   r.Level,
			Message: r.Message,
			Detail:  summaryDetail(r),
		})
	}
	return h.inner.Handle(ctx, r)
}

func summaryDetail(r slog.Record) string {
	found := make(map[string]string, len(summaryAttrs))
	r.Attrs(func(a slog.Attr) bool {
		for _, key := range summaryAttrs {
			if a.Key == key {
				found[key] = a.Value.String()
			}
		}
		return true
	})
	var parts []string
	for _, key := range summaryAttrs {
		if v, ok := found[key]; ok && v != "" {
			parts = append(parts, key+"="+v)
		}
	}
	return strings.Join(parts, " ")
}

func (h *summaryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &summaryHandler{
		inner:  h.inner.WithAttrs(attrs),
		buffer: h.buffer,
	}
}

func (h *summaryHandler) WithGroup(name string) slog.Handler {
	return &summaryHandler{
		inner:  h.inner.WithGroup(name),
		buffer: h.buffer,
	}
}

// teeHandler sends each record to every handler that accepts its level.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}

var (
	// Log is the global structured logger
	Log *slog.Logger
	// logWriter is the rotating log writer
	logWriter *lumberjack.Logger
	// LogPath is the path to the current log file
	LogPath string
	// summaryBuffer holds recent WARN/ERROR entries for the run summary
	summaryBuffer *ringBuffer
	// debugEnabled tracks if debug mode is active
	debugEnabled bool
)

// LogLevel represents the logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a configured level name to a LogLevel. Unknown names
// fall back to LevelInfo.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitLogger initializes the global logger with the specified level and
// optional path. If logPath is empty, defaults to
// ~/.local/state/eventimport/eventimport.log. When console is not nil,
// warnings and errors are also written to it as text.
func InitLogger(level LogLevel, logPath string, console io.Writer) {
	debugEnabled = level == LevelDebug

	opts := &slog.HandlerOptions{
		Level: level.slogLevel(),
	}

	if logPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = os.TempDir()
		}
		logPath = filepath.Join(homeDir, ".local", "state", "eventimport", "eventimport.log")
	}
	_ = os.MkdirAll(filepath.Dir(logPath), 0755)

	LogPath = logPath

	logWriter = &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
		Compress:   true,
	}

	summaryBuffer = newRingBuffer(100)

	// summaryHandler -> JSONHandler -> lumberjack, plus an optional console tee
	var handler slog.Handler = slog.NewJSONHandler(logWriter, opts)
	if console != nil {
		consoleLevel := slog.LevelWarn
		if debugEnabled {
			consoleLevel = slog.LevelDebug
		}
		handler = teeHandler{handler, slog.NewTextHandler(console, &slog.HandlerOptions{Level: consoleLevel})}
	}

	Log = slog.New(&summaryHandler{
		inner:  handler,
		buffer: summaryBuffer,
	})
	slog.SetDefault(Log)
}

// Close closes the log file
func Close() {
	if logWriter != nil {
		logWriter.Close()
	}
}

// getLogger returns the global logger, or the default slog logger if not initialized.
func getLogger() *slog.Logger {
	if Log != nil {
		return Log
	}
	return slog.Default()
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	getLogger().Debug(msg, args...)
}

// Info logs an info message
func Info(msg string, args ...any) {
	getLogger().Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	getLogger().Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	getLogger().Error(msg, args...)
}

// Logger returns the global logger.
func Logger() *slog.Logger {
	return getLogger()
}

// GetCounts returns the current warning and error counts.
func GetCounts() (warn, err int) {
	if summaryBuffer == nil {
		return 0, 0
	}
	return summaryBuffer.getCounts()
}

// GetEntries returns the captured warnings and errors, oldest first.
func GetEntries() []LogEntry {
	if summaryBuffer == nil {
		return nil
	}
	return summaryBuffer.getAll()
}

// Format formats a log entry for display.
func (e LogEntry) Format() string {
	levelStr := "INFO"
	switch e.Level {
	case slog.LevelDebug:
		levelStr = "DEBUG"
	case slog.LevelInfo:
		levelStr = "INFO"
	case slog.LevelWarn:
		levelStr = "WARN"
	case slog.LevelError:
		levelStr = "ERROR"
	}
	line := fmt.Sprintf("%s %-5s %s", e.Time.Format("15:04:05"), levelStr, e.Message)
	if e.Detail != "" {
		line += " " + e.Detail
	}
	return line
}
