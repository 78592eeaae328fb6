// Package logx provides the standard logger implementation used by every
// dxlclient component that accepts a types.Logger option.
package logx

import (
	"log"
	"os"
	"sync"

	"github.com/nexusfabric/dxlclient-go/types"
)

// Level is a logging severity. Lower values are more permissive.
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
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel maps a configuration string to a Level, defaulting to Info for
// anything unrecognized.
func ParseLevel(s string) Level {
	switch s {
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

// DefaultLogger writes level-filtered, prefixed lines to an *log.Logger
// (stderr by default).
type DefaultLogger struct {
	logger *log.Logger
	level  Level
	mu     sync.Mutex
}

// NewDefaultLogger creates a logger writing to stderr at Info level.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(os.Stderr, "[dxl] ", log.LstdFlags|log.Lmicroseconds),
		level:  LevelInfo,
	}
}

// NewLogger creates a logger at the given level ("debug", "info", "warn", "error").
func NewLogger(level string) *DefaultLogger {
	l := NewDefaultLogger()
	l.level = ParseLevel(level)
	return l
}

// SetLevel changes the minimum level that is emitted.
func (l *DefaultLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *DefaultLogger) enabled(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.level
}

func (l *DefaultLogger) printf(level Level, msg string, args ...interface{}) {
	if !l.enabled(level) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf(level.String()+": "+msg, args...)
}

func (l *DefaultLogger) Debug(msg string, args ...interface{}) { l.printf(LevelDebug, msg, args...) }
func (l *DefaultLogger) Info(msg string, args ...interface{})  { l.printf(LevelInfo, msg, args...) }
func (l *DefaultLogger) Warn(msg string, args ...interface{})  { l.printf(LevelWarn, msg, args...) }
func (l *DefaultLogger) Error(msg string, args ...interface{}) { l.printf(LevelError, msg, args...) }

var _ types.Logger = (*DefaultLogger)(nil)

// StandardLoggerAdapter wraps a caller-supplied *log.Logger so host
// applications can route dxlclient's log lines through their own logger
// without adopting DefaultLogger's formatting.
type StandardLoggerAdapter struct {
	logger *log.Logger
	level  Level
	mu     sync.Mutex
}

// NewStandardLoggerAdapter adapts logger (stderr if nil) at Info level.
func NewStandardLoggerAdapter(logger *log.Logger) *StandardLoggerAdapter {
	if logger == nil {
		logger = log.New(os.Stderr, "[dxl] ", log.LstdFlags)
	}
	return &StandardLoggerAdapter{logger: logger, level: LevelInfo}
}

func (a *StandardLoggerAdapter) SetLevel(level Level) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.level = level
}

func (a *StandardLoggerAdapter) enabled(level Level) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return level >= a.level
}

func (a *StandardLoggerAdapter) printf(level Level, msg string, args ...interface{}) {
	if !a.enabled(level) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Printf(level.String()+": "+msg, args...)
}

func (a *StandardLoggerAdapter) Debug(msg string, args ...interface{}) {
	a.printf(LevelDebug, msg, args...)
}
func (a *StandardLoggerAdapter) Info(msg string, args ...interface{}) {
	a.printf(LevelInfo, msg, args...)
}
func (a *StandardLoggerAdapter) Warn(msg string, args ...interface{}) {
	a.printf(LevelWarn, msg, args...)
}
func (a *StandardLoggerAdapter) Error(msg string, args ...interface{}) {
	a.printf(LevelError, msg, args...)
}

var _ types.Logger = (*StandardLoggerAdapter)(nil)
