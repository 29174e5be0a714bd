// SPDX-License-Identifier: MIT
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel defines the severity of a log message.
type LogLevel int

// Constants for log levels.
const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string (case-insensitive) to a LogLevel.
// Returns LevelInfo and false if the string is not recognized.
func ParseLevel(levelStr string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

// levelFatal sits above slog.LevelError so fatal records are never filtered.
const levelFatal = slog.Level(12)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelFatal:
		return levelFatal
	default:
		return slog.LevelInfo
	}
}

// --- Global Logger State ---

var (
	levelVar = new(slog.LevelVar)
	current  atomic.Pointer[slog.Logger]
	exit     = os.Exit
)

func init() {
	SetOutput(os.Stderr)
	SetLevel(LevelInfo)
}

// SetOutput redirects all subsequent log records to w. The terminal monitor
// uses this to keep log lines out of its alternate screen.
func SetOutput(w io.Writer) {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: levelVar,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == levelFatal {
					return slog.String(slog.LevelKey, "FATAL")
				}
			}
			return a
		},
	})
	current.Store(slog.New(h))
}

// Logger exposes the underlying structured logger.
func Logger() *slog.Logger {
	return current.Load()
}

// SetLevel sets the global logging level atomically.
func SetLevel(level LogLevel) {
	levelVar.Set(level.slogLevel())
}

// GetLevel gets the current global logging level.
func GetLevel() LogLevel {
	switch lvl := levelVar.Level(); {
	case lvl <= slog.LevelDebug:
		return LevelDebug
	case lvl <= slog.LevelInfo:
		return LevelInfo
	case lvl <= slog.LevelWarn:
		return LevelWarn
	case lvl <= slog.LevelError:
		return LevelError
	default:
		return LevelFatal
	}
}

func logf(level LogLevel, msg string) {
	l := current.Load()
	sl := level.slogLevel()
	if !l.Enabled(context.Background(), sl) {
		return
	}
	l.Log(context.Background(), sl, msg)
}

// --- Public Logging Functions ---

// Debugf logs a formatted debug message if the level is appropriate.
func Debugf(format string, v ...any) {
	if GetLevel() <= LevelDebug {
		logf(LevelDebug, fmt.Sprintf(format, v...))
	}
}

// Infof logs a formatted info message if the level is appropriate.
func Infof(format string, v ...any) {
	if GetLevel() <= LevelInfo {
		logf(LevelInfo, fmt.Sprintf(format, v...))
	}
}

// Warnf logs a formatted warning message if the level is appropriate.
func Warnf(format string, v ...any) {
	if GetLevel() <= LevelWarn {
		logf(LevelWarn, fmt.Sprintf(format, v...))
	}
}

// Errorf logs a formatted error message if the level is appropriate.
func Errorf(format string, v ...any) {
	logf(LevelError, fmt.Sprintf(format, v...))
}

// Fatalf logs a formatted fatal message and exits the application.
// Fatal messages are always logged regardless of the current level.
func Fatalf(format string, v ...any) {
	logf(LevelFatal, fmt.Sprintf(format, v...))
	exit(1)
}

// --- Functions without formatting (convenience) ---

func Debug(v ...any) { Debugf("%s", fmt.Sprint(v...)) }

func Info(v ...any) { Infof("%s", fmt.Sprint(v...)) }

func Warn(v ...any) { Warnf("%s", fmt.Sprint(v...)) }

func Error(v ...any) { Errorf("%s", fmt.Sprint(v...)) }

// Fatal logs a fatal message and exits the application.
func Fatal(v ...any) { Fatalf("%s", fmt.Sprint(v...)) }
