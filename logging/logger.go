// Package logging provides the printf-style logger accepted by every engine
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides a simple interface for pipeline logging
type Logger interface {
	// Debug logs a message at debug level
	Debug(format string, args ...interface{})

	// Info logs a message at info level
	Info(format string, args ...interface{})

	// Warn logs a message at warning level
	Warn(format string, args ...interface{})

	// Error logs a message at error level
	Error(format string, args ...interface{})
}

// NopLogger is a no-op logger implementation
type NopLogger struct{}

// Debug implements Logger.Debug
func (l *NopLogger) Debug(format string, args ...interface{}) {}

// Info implements Logger.Info
func (l *NopLogger) Info(format string, args ...interface{}) {}

// Warn implements Logger.Warn
func (l *NopLogger) Warn(format string, args ...interface{}) {}

// Error implements Logger.Error
func (l *NopLogger) Error(format string, args ...interface{}) {}

// NewNop creates a logger that discards everything
func NewNop() Logger {
	return &NopLogger{}
}

// OrNop returns l, or a no-op logger when l is nil
func OrNop(l Logger) Logger {
	if l == nil {
		return NewNop()
	}
	return l
}

// Options configures a zap-backed logger
type Options struct {
	// Level is one of debug, info, warn, error
	Level string

	// Development switches to the human-readable console encoder
	Development bool

	// Fields are attached to every entry
	Fields map[string]interface{}
}

// ZapLogger adapts a sugared zap logger to Logger
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZap builds a zap-backed Logger
func NewZap(opts Options) (*ZapLogger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	if len(opts.Fields) > 0 {
		cfg.InitialFields = opts.Fields
	}

	base, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &ZapLogger{sugar: base.Sugar()}, nil
}

// NewZapFrom wraps an existing zap logger
func NewZapFrom(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{sugar: l.Sugar()}
}

// Named returns a child logger scoped to a component
func (z *ZapLogger) Named(name string) *ZapLogger {
	return &ZapLogger{sugar: z.sugar.Named(name)}
}

// Debug implements Logger.Debug
func (z *ZapLogger) Debug(format string, args ...interface{}) { z.sugar.Debugf(format, args...) }

// Info implements Logger.Info
func (z *ZapLogger) Info(format string, args ...interface{}) { z.sugar.Infof(format, args...) }

// Warn implements Logger.Warn
func (z *ZapLogger) Warn(format string, args ...interface{}) { z.sugar.Warnf(format, args...) }

// Error implements Logger.Error
func (z *ZapLogger) Error(format string, args ...interface{}) { z.sugar.Errorf(format, args...) }

// Sync flushes buffered entries
func (z *ZapLogger) Sync() error {
	return z.sugar.Sync()
}

// Named scopes l when it supports it and returns it unchanged otherwise
func Named(l Logger, name string) Logger {
	if z, ok := l.(*ZapLogger); ok {
		return z.Named(name)
	}
	return OrNop(l)
}

// ParseLevel maps a level name to a zap level; empty means info
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}
