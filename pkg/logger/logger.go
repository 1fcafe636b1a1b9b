// Package logger provides the process-wide leveled logger.
//
// Call sites tag messages with a short component name ("registry",
// "store", "slack") so one bot's log stream stays greppable. Field
// variants append structured key=value pairs sorted by key.
package logger

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// Level controls which messages are emitted.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var currentLevel atomic.Int32

var std = log.New(os.Stderr, "", log.LstdFlags)

func init() {
	currentLevel.Store(int32(LevelInfo))
	if v := os.Getenv("CADENCE_LOG_LEVEL"); v != "" {
		SetLevelName(v)
	}
}

// SetLevel changes the minimum emitted level.
func SetLevel(l Level) { currentLevel.Store(int32(l)) }

// SetLevelName parses a level name ("debug", "info", "warn", "error").
// Unknown names are ignored.
func SetLevelName(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		SetLevel(LevelDebug)
	case "info":
		SetLevel(LevelInfo)
	case "warn", "warning":
		SetLevel(LevelWarn)
	case "error":
		SetLevel(LevelError)
	}
}

func enabled(l Level) bool { return int32(l) >= currentLevel.Load() }

func emit(l Level, component, msg string, fields map[string]interface{}) {
	if !enabled(l) {
		return
	}
	var b strings.Builder
	switch l {
	case LevelDebug:
		b.WriteString("DEBUG")
	case LevelInfo:
		b.WriteString("INFO ")
	case LevelWarn:
		b.WriteString("WARN ")
	case LevelError:
		b.WriteString("ERROR")
	}
	if component != "" {
		b.WriteString(" [")
		b.WriteString(component)
		b.WriteString("]")
	}
	b.WriteString(" ")
	b.WriteString(msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	std.Println(b.String())
}

// Debug logs an uncomponented debug message.
func Debug(msg string) { emit(LevelDebug, "", msg, nil) }

// Info logs an uncomponented info message.
func Info(msg string) { emit(LevelInfo, "", msg, nil) }

// Warn logs an uncomponented warning.
func Warn(msg string) { emit(LevelWarn, "", msg, nil) }

// Error logs an uncomponented error.
func Error(msg string) { emit(LevelError, "", msg, nil) }

// DebugC logs a debug message tagged with a component.
func DebugC(component, msg string) { emit(LevelDebug, component, msg, nil) }

// InfoC logs an info message tagged with a component.
func InfoC(component, msg string) { emit(LevelInfo, component, msg, nil) }

// WarnC logs a warning tagged with a component.
func WarnC(component, msg string) { emit(LevelWarn, component, msg, nil) }

// ErrorC logs an error tagged with a component.
func ErrorC(component, msg string) { emit(LevelError, component, msg, nil) }

// DebugCF logs a debug message with a component and structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	emit(LevelDebug, component, msg, fields)
}

// InfoCF logs an info message with a component and structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	emit(LevelInfo, component, msg, fields)
}

// WarnCF logs a warning with a component and structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	emit(LevelWarn, component, msg, fields)
}

// ErrorCF logs an error with a component and structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	emit(LevelError, component, msg, fields)
}
