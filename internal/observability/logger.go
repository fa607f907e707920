// Package observability provides structured logging, metrics, and health checks
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// ParseLevel converts a configured level name into a LogLevel, defaulting to info
func ParseLevel(level string) LogLevel {
	switch LogLevel(level) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return LogLevel(level)
	default:
		return LevelInfo
	}
}

// Logger provides structured logging with correlation IDs
type Logger struct {
	zl        zerolog.Logger
	out       io.Writer
	minLevel  LogLevel
	component string
}

// NewLogger creates a new structured logger writing JSON lines to stdout
func NewLogger(component string) *Logger {
	l := &Logger{
		minLevel:  LevelInfo,
		component: component,
	}
	return l.WithOutput(os.Stdout)
}

// WithOutput sets the output writer for the logger
func (l *Logger) WithOutput(w io.Writer) *Logger {
	l.out = w
	l.zl = zerolog.New(w).With().
		Timestamp().
		Str("component", l.component).
		Logger().
		Level(toZerologLevel(l.minLevel))
	return l
}

// WithLevel sets the minimum log level
func (l *Logger) WithLevel(level LogLevel) *Logger {
	l.minLevel = level
	l.zl = l.zl.Level(toZerologLevel(level))
	return l
}

// Component returns a child logger that shares output and level but logs under another component name
func (l *Logger) Component(component string) *Logger {
	child := &Logger{
		minLevel:  l.minLevel,
		component: component,
	}
	return child.WithOutput(l.out)
}

func toZerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// log writes a structured log entry
func (l *Logger) log(ctx context.Context, event *zerolog.Event, message string, fields map[string]interface{}) {
	if event == nil {
		return
	}

	if correlationID := GetCorrelationID(ctx); correlationID != "" {
		event = event.Str("correlation_id", correlationID)
	}
	if userID := GetUserID(ctx); userID != "" {
		event = event.Str("user_id", userID)
	}
	if len(fields) > 0 {
		event = event.Fields(fields)
	}

	event.Msg(message)
}

// Debug logs a debug message
func (l *Logger) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	l.log(ctx, l.zl.Debug(), message, fields)
}

// Info logs an info message
func (l *Logger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	l.log(ctx, l.zl.Info(), message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.log(ctx, l.zl.Warn(), message, fields)
}

// Error logs an error message
func (l *Logger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	event := l.zl.Error()
	if event != nil && err != nil {
		event = event.Str("error", err.Error())
	}
	l.log(ctx, event, message, fields)
}

// WithOperation logs the start and end of an operation
func (l *Logger) WithOperation(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()
	correlationID := GetCorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.New().String()
		ctx = WithCorrelationID(ctx, correlationID)
	}

	l.Info(ctx, fmt.Sprintf("Starting operation: %s", operation), map[string]interface{}{
		"operation": operation,
	})

	err := fn(ctx)
	duration := time.Since(start)

	fields := map[string]interface{}{
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	}

	if err != nil {
		l.Error(ctx, fmt.Sprintf("Operation failed: %s", operation), err, fields)
		return err
	}

	l.Info(ctx, fmt.Sprintf("Operation completed: %s", operation), fields)
	return nil
}

// Context keys for storing values in context
type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	userIDKey        contextKey = "user_id"
)

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// GetCorrelationID retrieves the correlation ID from the context
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithUserID adds a caller ID to the context
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// GetUserID retrieves the caller ID from the context
func GetUserID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}
