package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a configuration string ("debug", "INFO", "warning", ...)
// into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger defines the minimal logging interface for MengLong.
// This allows users to provide their own logger implementation or use the built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// StructuredLogger wraps slog.Logger adding component / run scoped attributes.
// With* methods return copies.
type StructuredLogger struct {
	logger    *slog.Logger
	level     LogLevel
	attrs     map[string]any
	component string
	runID     string
}

// LoggerConfig configures construction of a StructuredLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
	Attrs     map[string]any
}

// DefaultLoggerConfig returns a baseline JSON info level configuration writing to stderr.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stderr, Attrs: map[string]any{}}
}

// NewLogger builds a StructuredLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *StructuredLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	attrs := make(map[string]any, len(cfg.Attrs))
	for k, v := range cfg.Attrs {
		attrs[k] = v
	}

	return &StructuredLogger{logger: slog.New(handler), level: cfg.Level, attrs: attrs, component: cfg.Component}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *StructuredLogger) clone() *StructuredLogger {
	nl := *l
	nl.attrs = make(map[string]any, len(l.attrs))
	for k, v := range l.attrs {
		nl.attrs[k] = v
	}
	return &nl
}

// With adds a key/value attribute that will be attached to every log entry.
func (l *StructuredLogger) With(key string, value any) *StructuredLogger {
	nl := l.clone()
	nl.attrs[key] = value
	return nl
}

// WithComponent sets the logical component (agent, dispatcher, server, ...).
func (l *StructuredLogger) WithComponent(c string) *StructuredLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithRun attaches an agent run identifier.
func (l *StructuredLogger) WithRun(runID string) *StructuredLogger {
	nl := l.clone()
	nl.runID = runID
	return nl
}

func (l *StructuredLogger) baseAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.attrs)+2)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.runID != "" {
		attrs = append(attrs, slog.String("run_id", l.runID))
	}
	for k, v := range l.attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func (l *StructuredLogger) log(level slog.Level, msg string, args ...any) {
	if level < slogLevel(l.level) {
		return
	}
	r := slog.NewRecord(time.Now(), level, msg, 0)
	r.AddAttrs(l.baseAttrs()...)
	r.Add(args...)
	_ = l.logger.Handler().Handle(context.Background(), r)
}

// Debug logs at debug level.
func (l *StructuredLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l *StructuredLogger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *StructuredLogger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l *StructuredLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// LogToolCall records the outcome of a tool invocation as tool.call.success
// or tool.call.error. Extra key/value pairs follow the standard ones.
func LogToolCall(l Logger, tool string, dur time.Duration, err error, args ...any) {
	kv := append([]any{"tool", tool, "duration_ms", dur.Milliseconds()}, args...)
	if err != nil {
		l.Error("tool.call.error", append(kv, "error", err.Error())...)
		return
	}
	l.Info("tool.call.success", kv...)
}

// LogModelCall records model call latency and token usage. Successful calls
// are logged at debug level.
func LogModelCall(l Logger, model string, tokens int, dur time.Duration, err error, args ...any) {
	kv := append([]any{"model", model, "token_count", tokens, "duration_ms", dur.Milliseconds()}, args...)
	if err != nil {
		l.Error("model.call.failed", append(kv, "error", err.Error())...)
		return
	}
	l.Debug("model.call.completed", kv...)
}

// LogRun records aggregate metrics of a finished agent run.
func LogRun(l Logger, status string, iterations int, dur time.Duration) {
	l.Info("agent.run.finished", "status", status, "iterations", iterations, "duration_ms", dur.Milliseconds())
}

// WithAttrs returns l with the key/value pairs attached to every entry.
func WithAttrs(l Logger, args ...any) Logger {
	switch v := l.(type) {
	case nil:
		return NoOpLogger{}
	case NoOpLogger:
		return v
	case *StructuredLogger:
		for i := 0; i+1 < len(args); i += 2 {
			v = v.With(fmt.Sprint(args[i]), args[i+1])
		}
		return v
	default:
		return &scopedLogger{next: l, args: args}
	}
}

// ForComponent tags entries written through l with a component name.
func ForComponent(l Logger, component string) Logger {
	if sl, ok := l.(*StructuredLogger); ok {
		return sl.WithComponent(component)
	}
	return WithAttrs(l, "component", component)
}

// ForRun tags entries written through l with an agent run identifier.
func ForRun(l Logger, runID string) Logger {
	if sl, ok := l.(*StructuredLogger); ok {
		return sl.WithRun(runID)
	}
	return WithAttrs(l, "run_id", runID)
}

// scopedLogger prepends fixed attributes for loggers that cannot carry them.
type scopedLogger struct {
	next Logger
	args []any
}

func (s *scopedLogger) with(args []any) []any {
	return append(append(make([]any, 0, len(s.args)+len(args)), s.args...), args...)
}

func (s *scopedLogger) Debug(msg string, args ...any) { s.next.Debug(msg, s.with(args)...) }
func (s *scopedLogger) Info(msg string, args ...any)  { s.next.Info(msg, s.with(args)...) }
func (s *scopedLogger) Warn(msg string, args ...any)  { s.next.Warn(msg, s.with(args)...) }
func (s *scopedLogger) Error(msg string, args ...any) { s.next.Error(msg, s.with(args)...) }

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// OrNoOp returns l, or NoOpLogger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}
