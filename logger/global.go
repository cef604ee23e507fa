package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// global backs the package-level helpers. It is installed by New or
// SetGlobalLogger; before that the first helper call builds a default
// info-level JSON logger.
var global atomic.Pointer[zap.Logger]

// SetGlobalLogger makes l the target of the package-level helpers. Caller
// information points at the code calling the helper, not at this package.
func SetGlobalLogger(l *zap.Logger) {
	global.Store(l.WithOptions(zap.AddCallerSkip(1)))
}

func current() *zap.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	l, err := build(DefaultConfig(), zapcore.InfoLevel,
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.DPanicLevel),
	)
	if err != nil {
		l = zap.NewNop()
	}
	if !global.CompareAndSwap(nil, l) {
		return global.Load()
	}
	return l
}

// Info logs at info level on the global logger
func Info(msg string, fields ...zap.Field) {
	current().Info(msg, fields...)
}

// Error logs at error level on the global logger
func Error(msg string, fields ...zap.Field) {
	current().Error(msg, fields...)
}

// Sync flushes the global logger. Call it before the process exits.
func Sync() error {
	return current().Sync()
}
