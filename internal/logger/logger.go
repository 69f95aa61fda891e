// Package logger provides the process-wide logging facade, backed by zap.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.Mutex
	log *zap.SugaredLogger = newLogger(false).Sugar()
)

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// The static production config cannot fail to build; fall back to
		// a no-op logger rather than panicking in a logging path.
		return zap.NewNop()
	}
	return l
}

// Initialize replaces the process logger. Call once at startup.
func Initialize(debug bool) {
	mu.Lock()
	defer mu.Unlock()
	log = newLogger(debug).Sugar()
}

// Sync flushes buffered log entries.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	_ = log.Sync()
}

// Debugf logs at debug level with a format string.
func Debugf(format string, args ...any) { log.Debugf(format, args...) }

// Infof logs at info level with a format string.
func Infof(format string, args ...any) { log.Infof(format, args...) }

// Warnf logs at warn level with a format string.
func Warnf(format string, args ...any) { log.Warnf(format, args...) }

// Errorf logs at error level with a format string.
func Errorf(format string, args ...any) { log.Errorf(format, args...) }

// Info logs at info level.
func Info(args ...any) { log.Info(args...) }

// Warn logs at warn level.
func Warn(args ...any) { log.Warn(args...) }

// Error logs at error level.
func Error(args ...any) { log.Error(args...) }
