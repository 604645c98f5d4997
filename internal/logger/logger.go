package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Level is a log severity level.
type Level int32

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var currentLevel atomic.Int32

func init() {
	currentLevel.Store(int32(LevelInfo))
	log.SetFlags(log.LstdFlags)
}

// ParseLevel converts a level name into a Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "fatal":
		return LevelFatal, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level: %s", name)
}

// SetLevel sets the minimum level that will be written.
func SetLevel(level Level) {
	currentLevel.Store(int32(level))
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	return Level(currentLevel.Load())
}

func write(level Level, tag, format string, args ...interface{}) {
	if level < GetLevel() {
		return
	}
	log.Printf(tag+" "+format, args...)
}

// Trace logs at trace level.
func Trace(format string, args ...interface{}) {
	write(LevelTrace, "TRACE", format, args...)
}

// Debug logs at debug level.
func Debug(format string, args ...interface{}) {
	write(LevelDebug, "DEBUG", format, args...)
}

// Info logs at info level.
func Info(format string, args ...interface{}) {
	write(LevelInfo, "INFO", format, args...)
}

// Warn logs at warn level.
func Warn(format string, args ...interface{}) {
	write(LevelWarn, "WARN", format, args...)
}

// Error logs at error level.
func Error(format string, args ...interface{}) {
	write(LevelError, "ERROR", format, args...)
}

// Fatal logs at fatal level and exits.
func Fatal(format string, args ...interface{}) {
	write(LevelFatal, "FATAL", format, args...)
	os.Exit(1)
}
