package logutils

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

// ZapLogger returns the process-wide logger. It is initialized lazily
// with a production config writing to stderr.
func ZapLogger() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		logger, _ = cfg.Build()
	}
	return logger
}

// SetZapLogger overrides the process-wide logger. Used by the CLI and by tests.
func SetZapLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}
