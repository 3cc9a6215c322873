// Package logging provides JSON structured logging in OTEL-compatible format.
package logging

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents log severity level.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

// severityNumbers maps OTEL severity text to OTEL severity number.
// See https://opentelemetry.io/docs/specs/otel/logs/data-model/#severity-fields
var severityNumbers = map[Level]int{
	LevelDebug: 5,  // DEBUG
	LevelInfo:  9,  // INFO
	LevelWarn:  13, // WARN
	LevelError: 17, // ERROR
	LevelFatal: 21, // FATAL
}

// SeverityNumber returns the OTEL severity number for a level.
func SeverityNumber(level Level) int {
	return severityNumbers[level]
}

// Hook is called for every log entry, allowing secondary log sinks
// (e.g. OTLP log export) without the logging package importing them.
type Hook func(level Level, msg string, attrs map[string]interface{})

// Logger provides JSON structured logging in OTEL-compatible format.
type Logger struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel int
	resource map[string]string
	hook     Hook
}

// Entry is a single log entry in OTEL-compatible JSON format.
type Entry struct {
	Timestamp      string                 `json:"Timestamp"`
	SeverityText   string                 `json:"SeverityText"`
	SeverityNumber int                    `json:"SeverityNumber"`
	Body           string                 `json:"Body"`
	Attributes     map[string]interface{} `json:"Attributes,omitempty"`
	Resource       map[string]string      `json:"Resource,omitempty"`
}

var defaultLogger = &Logger{output: os.Stdout, minLevel: severityNumbers[LevelInfo]}

// SetOutput sets the output writer for the default logger.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.output = w
}

// SetLevel sets the minimum severity emitted by the default logger. Debug
// logging of connection chatter is off unless explicitly enabled.
func SetLevel(level Level) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.minLevel = severityNumbers[level]
}

// SetResource sets the OTEL resource attributes (service.name,
// service.version, ...) for the default logger. Called once at startup.
func SetResource(resource map[string]string) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.resource = resource
}

// SetHook registers a hook that is called for every emitted entry. Used by
// the telemetry package to forward logs via OTLP.
func SetHook(hook Hook) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.hook = hook
}

func (l *Logger) log(level Level, msg string, attrs map[string]interface{}) {
	entry := Entry{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		SeverityText:   string(level),
		SeverityNumber: severityNumbers[level],
		Body:           msg,
		Attributes:     attrs,
	}

	l.mu.Lock()
	if entry.SeverityNumber < l.minLevel {
		l.mu.Unlock()
		return
	}
	if l.resource != nil {
		entry.Resource = l.resource
	}
	hook := l.hook
	data, _ := json.Marshal(entry)
	_, _ = l.output.Write(data)
	_, _ = l.output.Write([]byte("\n"))
	l.mu.Unlock()

	// Call hook outside the lock to avoid deadlocks
	if hook != nil {
		hook(level, msg, attrs)
	}
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a debug level message.
func Debug(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelDebug, msg, first(fields))
}

// Info logs an info level message.
func Info(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelInfo, msg, first(fields))
}

// Warn logs a warning level message.
func Warn(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelWarn, msg, first(fields))
}

// Error logs an error level message.
func Error(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelError, msg, first(fields))
}

// Fatal logs a fatal level message and exits.
func Fatal(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelFatal, msg, first(fields))
	os.Exit(1)
}

// F is a helper to create fields map.
func F(keyvals ...interface{}) map[string]interface{} {
	fields := make(map[string]interface{})
	for i := 0; i < len(keyvals)-1; i += 2 {
		if key, ok := keyvals[i].(string); ok {
			fields[key] = keyvals[i+1]
		}
	}
	return fields
}
