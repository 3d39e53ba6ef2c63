package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"

	apperrors "github.com/mediafetch/backend/internal/errors"
)

// Level represents the log level
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
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel parses a level name; unknown names mean info
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Config holds configuration for a logger
type Config struct {
	Output    io.Writer
	Level     Level
	Component string
	// Format is "json" (default) or "text"
	Format string
}

// Logger provides structured logging on top of logrus
type Logger struct {
	base      *logrus.Logger
	component string
	redactor  *Redactor
}

// global default logger; component loggers share its logrus instance so
// Configure applies to loggers created before it ran
var defaultLogger = New(&Config{Output: os.Stdout, Level: LevelInfo})

// New creates a new logger
func New(cfg *Config) *Logger {
	base := logrus.New()
	l := &Logger{
		base:      base,
		component: cfg.Component,
		redactor:  DefaultRedactor(),
	}
	l.apply(cfg)
	return l
}

func (l *Logger) apply(cfg *Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	l.base.SetOutput(out)
	l.base.SetLevel(cfg.Level.logrus())
	if cfg.Format == "text" {
		l.base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.base.SetFormatter(&entryFormatter{})
	}
}

// Configure reconfigures the default logger in place
func Configure(cfg *Config) {
	defaultLogger.apply(cfg)
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// WithComponent creates a new logger with the specified component name
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		base:      l.base,
		component: component,
		redactor:  l.redactor,
	}
}

// WithComponent derives a component logger from the default logger
func WithComponent(component string) *Logger {
	return defaultLogger.WithComponent(component)
}

// WithRequestID adds a request ID to the context so log entries carry it
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return apperrors.WithRequestID(ctx, requestID)
}

func (l *Logger) log(ctx context.Context, level Level, msg string, fields map[string]any, err error) {
	lv := level.logrus()
	if !l.base.IsLevelEnabled(lv) {
		return
	}

	data := logrus.Fields{}
	for k, v := range l.redactor.RedactFields(fields) {
		data[k] = v
	}
	if ctx != nil {
		if id := apperrors.GetRequestID(ctx); id != "" {
			data[keyRequestID] = id
		}
	}
	if l.component != "" {
		data[keyComponent] = l.component
	}

	// Add caller info for errors
	if level >= LevelError {
		if _, file, line, ok := runtime.Caller(2); ok {
			parts := strings.Split(file, "/")
			if len(parts) > 2 {
				file = strings.Join(parts[len(parts)-2:], "/")
			}
			data[keyCaller] = fmt.Sprintf("%s:%d", file, line)
		}
	}

	if err != nil {
		details := &ErrorDetails{Message: l.redactor.Redact(err.Error())}
		if appErr, ok := err.(*apperrors.AppError); ok {
			details.Code = appErr.Code
			details.Category = string(appErr.Category)
		}
		if level >= LevelError {
			details.StackTrace = getStackTrace()
		}
		data[keyError] = details
	}

	l.base.WithFields(data).Log(lv, l.redactor.Redact(msg))
}

// Debug logs a debug message
func (l *Logger) Debug(ctx context.Context, msg string, fields ...map[string]any) {
	l.log(ctx, LevelDebug, msg, first(fields), nil)
}

// Info logs an info message
func (l *Logger) Info(ctx context.Context, msg string, fields ...map[string]any) {
	l.log(ctx, LevelInfo, msg, first(fields), nil)
}

// Warn logs a warning message
func (l *Logger) Warn(ctx context.Context, msg string, fields ...map[string]any) {
	l.log(ctx, LevelWarn, msg, first(fields), nil)
}

// Error logs an error message
func (l *Logger) Error(ctx context.Context, msg string, err error, fields ...map[string]any) {
	l.log(ctx, LevelError, msg, first(fields), err)
}

func first(fields []map[string]any) map[string]any {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Package-level convenience functions

func Debug(ctx context.Context, msg string, fields ...map[string]any) {
	defaultLogger.Debug(ctx, msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...map[string]any) {
	defaultLogger.Info(ctx, msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...map[string]any) {
	defaultLogger.Warn(ctx, msg, fields...)
}

func Error(ctx context.Context, msg string, err error, fields ...map[string]any) {
	defaultLogger.Error(ctx, msg, err, fields...)
}

// getStackTrace returns a stack trace string
func getStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
