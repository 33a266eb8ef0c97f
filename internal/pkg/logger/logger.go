// Package logger holds the process-wide zap logger of the directory
// services. Components keep a child from Named; the level is a shared
// AtomicLevel that the ops API changes at runtime.
//
// Import Path: orgdir.io/orgdir/internal/pkg/logger
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service is stamped on every entry.
const Service = "orgdir"

var (
	level = zap.NewAtomicLevel()

	mu     sync.RWMutex
	global *zap.Logger
	// helpers backs Debug/Info/Warn/Error, which sit one frame above the caller.
	helpers *zap.Logger
)

// Init parses lvl (debug, info, warn, error) and installs a "json" or
// "console" logger. Calling Init again replaces the logger; children taken
// with Named before keep the old one.
func Init(lvl, format string) error {
	if err := SetLevel(lvl); err != nil {
		return fmt.Errorf("parse log level %q: %w", lvl, err)
	}
	l, err := buildConfig(format).Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	Replace(l)
	return nil
}

func buildConfig(format string) zap.Config {
	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = level
	return cfg
}

// Replace installs l as the process logger.
func Replace(l *zap.Logger) {
	l = l.With(zap.String("service", Service))
	mu.Lock()
	defer mu.Unlock()
	global = l
	helpers = l.WithOptions(zap.AddCallerSkip(1))
}

// SetLevel changes the level of the installed logger.
func SetLevel(lvl string) error {
	return level.UnmarshalText([]byte(lvl))
}

// GetLevel returns the current log level.
func GetLevel() zapcore.Level {
	return level.Level()
}

// L returns the process logger, or a no-op logger before Init so library
// packages can log from tests.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return zap.NewNop()
	}
	return global
}

// Named returns a child logger for a component such as "eventstore".
func Named(component string) *zap.Logger {
	return L().Named(component)
}

func helper() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if helpers == nil {
		return zap.NewNop()
	}
	return helpers
}

// Debug logs at DebugLevel.
func Debug(msg string, fields ...zap.Field) { helper().Debug(msg, fields...) }

// Info logs at InfoLevel.
func Info(msg string, fields ...zap.Field) { helper().Info(msg, fields...) }

// Warn logs at WarnLevel.
func Warn(msg string, fields ...zap.Field) { helper().Warn(msg, fields...) }

// Error logs at ErrorLevel.
func Error(msg string, fields ...zap.Field) { helper().Error(msg, fields...) }

// LevelHandler returns the AtomicLevel, which serves GET and PUT of
// {"level":"debug"} on /log/level.
func LevelHandler() *zap.AtomicLevel {
	return &level
}

// Sync flushes any buffered log entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return nil
	}
	return global.Sync()
}
