package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Iron-Ham/logfunnel/internal/record"
)

// Attribute keys with special meaning to handlers.
const (
	// LoggerKey carries the dotted logger name of a log call.
	LoggerKey = "logger"
	// ErrorKey carries an error value whose failure context should be
	// rendered with the record.
	ErrorKey = "error"
)

// Logger is the log call surface used by producer code. It is a thin layer
// over an slog.Handler that adds dotted logger names, the CRITICAL level,
// printf-style calls and error results for shutdown propagation.
// It is safe for concurrent use.
type Logger struct {
	handler slog.Handler
	name    string
	shared  *closeState // shared by child loggers
}

type closeState struct {
	mu     sync.Mutex
	closer io.Closer
}

// New creates a root Logger writing to h.
func New(h slog.Handler) *Logger {
	return &Logger{handler: h, shared: &closeState{}}
}

// NewWithCloser creates a root Logger whose Close also closes c.
// Producers use this to tie the emitter's lifetime to the logger.
func NewWithCloser(h slog.Handler, c io.Closer) *Logger {
	l := New(h)
	l.shared.closer = c
	return l
}

// NewTextLogger returns a Logger writing slog text lines to w at the given
// minimum level. Useful for commands that run without a queue.
func NewTextLogger(w io.Writer, level record.Level) *Logger {
	return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.Slog()}))
}

// NopLogger returns a Logger that discards all log output.
// Useful for testing or when logging is disabled.
func NopLogger() *Logger {
	return New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

// Handler returns the underlying slog handler.
func (l *Logger) Handler() slog.Handler {
	return l.handler
}

// Name returns the dotted logger name. The root logger's name is empty.
func (l *Logger) Name() string {
	return l.name
}

// Logger returns the child logger with the given dotted name relative to l.
// On the root logger, Logger("a.b") is the logger "a.b".
func (l *Logger) Logger(name string) *Logger {
	if name == "" {
		return l
	}
	full := name
	if l.name != "" {
		full = l.name + "." + name
	}
	return &Logger{handler: l.handler, name: full, shared: l.shared}
}

// With returns a new Logger with arbitrary key-value attributes.
// Keys and values are provided as alternating arguments.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	var r slog.Record
	r.Add(args...)
	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	return &Logger{handler: l.handler.WithAttrs(attrs), name: l.name, shared: l.shared}
}

// Enabled reports whether a call at level would be handled.
func (l *Logger) Enabled(ctx context.Context, level record.Level) bool {
	return l.handler.Enabled(ctx, level.Slog())
}

// Log emits a record at level. Recoverable delivery failures are handled by
// the handler; only process-control errors (see errors.IsShutdown) are
// returned, so callers can stop their work when the process is shutting down.
func (l *Logger) Log(ctx context.Context, level record.Level, msg string, args ...any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.handler.Enabled(ctx, level.Slog()) {
		return nil
	}

	r := slog.NewRecord(time.Now(), level.Slog(), msg, 0)
	if l.name != "" {
		r.AddAttrs(slog.String(LoggerKey, l.name))
	}
	r.Add(args...)
	return l.handler.Handle(ctx, r)
}

// Logf emits a printf-style record. The message is interpolated exactly once,
// here, and only if the level is enabled.
func (l *Logger) Logf(ctx context.Context, level record.Level, format string, args ...any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.handler.Enabled(ctx, level.Slog()) {
		return nil
	}
	return l.Log(ctx, level, fmt.Sprintf(format, args...))
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	_ = l.Log(context.Background(), record.LevelDebug, msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	_ = l.Log(context.Background(), record.LevelInfo, msg, args...)
}

// Warn logs a message at WARNING level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	_ = l.Log(context.Background(), record.LevelWarning, msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	_ = l.Log(context.Background(), record.LevelError, msg, args...)
}

// Critical logs a message at CRITICAL level with optional key-value pairs.
func (l *Logger) Critical(msg string, args ...any) {
	_ = l.Log(context.Background(), record.LevelCritical, msg, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	_ = l.Logf(context.Background(), record.LevelDebug, format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	_ = l.Logf(context.Background(), record.LevelInfo, format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	_ = l.Logf(context.Background(), record.LevelWarning, format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	_ = l.Logf(context.Background(), record.LevelError, format, args...)
}

func (l *Logger) Criticalf(format string, args ...any) {
	_ = l.Logf(context.Background(), record.LevelCritical, format, args...)
}

// Exception logs msg at ERROR level with err attached as failure context.
// Queue-backed handlers render err and the call stack into the record's
// failure text before it leaves the process.
func (l *Logger) Exception(msg string, err error, args ...any) {
	args = append([]any{slog.Any(ErrorKey, err)}, args...)
	_ = l.Log(context.Background(), record.LevelError, msg, args...)
}

// Close closes the resource attached with NewWithCloser, if any.
// It is safe to call more than once.
func (l *Logger) Close() error {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()

	if l.shared.closer == nil {
		return nil
	}
	err := l.shared.closer.Close()
	l.shared.closer = nil
	return err
}
