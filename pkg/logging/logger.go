package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// NewJSONLogger creates a new JSON logger
func NewJSONLogger(writer io.Writer, level Level) *JSONLogger {
	return &JSONLogger{
		out:    &syncWriter{w: writer},
		level:  newLevelVar(level),
		fields: make([]Field, 0),
	}
}

// NewDefaultLogger creates a logger that writes to stderr at INFO level
func NewDefaultLogger() *JSONLogger {
	return NewJSONLogger(os.Stderr, InfoLevel)
}

func (l *JSONLogger) log(level Level, msg string, fields ...Field) {
	if level < l.level.get() {
		return
	}

	fieldMap := make(map[string]any, len(l.fields)+len(fields))
	for _, f := range l.fields {
		fieldMap[f.Key] = f.Value
	}
	for _, f := range fields {
		fieldMap[f.Key] = f.Value
	}

	entry := LogEntry{
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Level:   level.String(),
		Message: msg,
	}
	if len(fieldMap) > 0 {
		entry.Fields = fieldMap
	}

	data, err := json.Marshal(entry)

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if err != nil {
		fmt.Fprintf(l.out.w, "[ERROR] Failed to marshal log entry: %v\n", err)
		return
	}
	l.out.w.Write(append(data, '\n'))
}

// Debug logs a debug-level message
func (l *JSONLogger) Debug(msg string, fields ...Field) {
	l.log(DebugLevel, msg, fields...)
}

// Info logs an info-level message
func (l *JSONLogger) Info(msg string, fields ...Field) {
	l.log(InfoLevel, msg, fields...)
}

// Warn logs a warning-level message
func (l *JSONLogger) Warn(msg string, fields ...Field) {
	l.log(WarnLevel, msg, fields...)
}

// Error logs an error-level message
func (l *JSONLogger) Error(msg string, fields ...Field) {
	l.log(ErrorLevel, msg, fields...)
}

// With creates a child logger with the given fields pre-set. The child
// shares its parent's output and level.
func (l *JSONLogger) With(fields ...Field) Logger {
	newFields := make([]Field, len(l.fields)+len(fields))
	copy(newFields, l.fields)
	copy(newFields[len(l.fields):], fields)

	return &JSONLogger{
		out:    l.out,
		level:  l.level,
		fields: newFields,
	}
}

// withLevel is like With but detaches the level so a component can be tuned
// on its own.
func (l *JSONLogger) withLevel(level *levelVar, fields ...Field) *JSONLogger {
	child := l.With(fields...).(*JSONLogger)
	child.level = level
	return child
}

// SetLevel sets the minimum log level
func (l *JSONLogger) SetLevel(level Level) {
	l.level.set(level)
}

// GetLevel returns the current log level
func (l *JSONLogger) GetLevel() Level {
	return l.level.get()
}

// Global default logger
var (
	defaultLogger Logger
	once          sync.Once
)

// DefaultLogger returns the global default logger
func DefaultLogger() Logger {
	once.Do(func() {
		level := InfoLevel
		if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
			level = ParseLevel(levelStr)
		}
		defaultLogger = NewJSONLogger(os.Stderr, level)
	})
	return defaultLogger
}

// TimedOperation helps measure operation duration
type TimedOperation struct {
	logger Logger
	msg    string
	start  time.Time
	fields []Field
}

// StartOperation begins timing an operation
func StartOperation(logger Logger, msg string, fields ...Field) *TimedOperation {
	return &TimedOperation{
		logger: OrNop(logger),
		msg:    msg,
		start:  time.Now(),
		fields: fields,
	}
}

// End logs the operation at debug level with its duration
func (t *TimedOperation) End() {
	t.logger.Debug(t.msg, append(t.fields, Latency(time.Since(t.start)))...)
}

// EndError logs the operation as an error with its duration
func (t *TimedOperation) EndError(err error) {
	t.logger.Error(t.msg, append(t.fields, Latency(time.Since(t.start)), Error(err))...)
}
