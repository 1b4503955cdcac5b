package logging

import (
	"io"
	"log"
	"os"
	"strings"
)

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
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel maps a config string to a Level, defaulting to info.
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

// Logger is a small leveled logger. Debug and info go to stdout, warnings
// and errors to stderr.
type Logger struct {
	level       Level
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
}

func New(level string) *Logger {
	return NewWithWriters(level, os.Stdout, os.Stderr)
}

// NewWithWriters is New with explicit outputs, used by tests to capture logs.
func NewWithWriters(level string, out, errOut io.Writer) *Logger {
	flags := log.Ldate | log.Ltime
	return &Logger{
		level:       ParseLevel(level),
		debugLogger: log.New(out, "DEBUG: ", flags),
		infoLogger:  log.New(out, "INFO: ", flags),
		warnLogger:  log.New(errOut, "WARN: ", flags),
		errorLogger: log.New(errOut, "ERROR: ", flags),
	}
}

func NewDiscard() *Logger {
	return NewWithWriters("error", io.Discard, io.Discard)
}

func (l *Logger) Level() Level {
	if l == nil {
		return LevelError
	}
	return l.level
}

func (l *Logger) Debug(format string, v ...any) {
	if l == nil || l.level > LevelDebug {
		return
	}
	l.debugLogger.Printf(format, v...)
}

func (l *Logger) Info(format string, v ...any) {
	if l == nil || l.level > LevelInfo {
		return
	}
	l.infoLogger.Printf(format, v...)
}

func (l *Logger) Warn(format string, v ...any) {
	if l == nil || l.level > LevelWarn {
		return
	}
	l.warnLogger.Printf(format, v...)
}

func (l *Logger) Error(format string, v ...any) {
	if l == nil {
		return
	}
	l.errorLogger.Printf(format, v...)
}
