package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// Level represents a log level
type Level int32

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production
	DebugLevel Level = iota
	// InfoLevel is the default logging priority
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual human review
	WarnLevel
	// ErrorLevel logs are high-priority. A healthy control plane shouldn't generate any
	ErrorLevel
)

// String returns the string representation of a log level
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level, falling back to InfoLevel
func ParseLevel(s string) Level {
	level, err := ParseLevelStrict(s)
	if err != nil {
		return InfoLevel
	}
	return level
}

// ParseLevelStrict converts a string to a Level and rejects unknown names.
// Used where a bad level must be reported instead of silently defaulted.
func ParseLevelStrict(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DebugLevel, nil
	case "INFO":
		return InfoLevel, nil
	case "WARN", "WARNING":
		return WarnLevel, nil
	case "ERROR":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// Logger is the interface for structured logging
type Logger interface {
	// Debug logs a debug-level message
	Debug(msg string, fields ...Field)
	// Info logs an info-level message
	Info(msg string, fields ...Field)
	// Warn logs a warning-level message
	Warn(msg string, fields ...Field)
	// Error logs an error-level message
	Error(msg string, fields ...Field)
	// With creates a child logger with the given fields pre-set
	With(fields ...Field) Logger
	// SetLevel sets the minimum log level
	SetLevel(level Level)
	// GetLevel returns the current log level
	GetLevel() Level
}

// levelVar is shared between a logger and every child created with With,
// so a level change reaches the whole family.
type levelVar struct {
	v atomic.Int32
}

func newLevelVar(l Level) *levelVar {
	lv := &levelVar{}
	lv.v.Store(int32(l))
	return lv
}

func (lv *levelVar) get() Level  { return Level(lv.v.Load()) }
func (lv *levelVar) set(l Level) { lv.v.Store(int32(l)) }

// JSONLogger implements Logger with JSON output
type JSONLogger struct {
	out    *syncWriter
	level  *levelVar
	fields []Field
}

// syncWriter serializes writes from every logger sharing one output
type syncWriter struct {
	w  io.Writer
	mu sync.Mutex
}

// LogEntry represents a single log entry in JSON format
type LogEntry struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// NopLogger is a logger that does nothing (useful for testing)
type NopLogger struct{}

func (NopLogger) Debug(msg string, fields ...Field) {}
func (NopLogger) Info(msg string, fields ...Field)  {}
func (NopLogger) Warn(msg string, fields ...Field)  {}
func (NopLogger) Error(msg string, fields ...Field) {}
func (n NopLogger) With(fields ...Field) Logger     { return n }
func (NopLogger) SetLevel(level Level)              {}
func (NopLogger) GetLevel() Level                   { return InfoLevel }

// NewNopLogger creates a logger that discards all output
func NewNopLogger() Logger {
	return NopLogger{}
}

// OrNop returns l, or a NopLogger when l is nil
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}
