// Package logging provides a single process-wide zap logger, configurable
// via the LOG_LEVEL environment variable the same way the rest of this
// lineage wires up verbosity.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger = build()
)

func build() *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(os.Stdout), level)
	return zap.New(Dedup(core))
}

// L returns the process-wide structured logger.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// S returns the process-wide sugared logger, the form used by most
// call sites in this repo.
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// SetLevel changes the minimum level of the process-wide logger.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// ConfigureFromEnv applies LOG_LEVEL, if set, falling back to the
// current default (info) otherwise.
func ConfigureFromEnv() error {
	v := os.Getenv("LOG_LEVEL")
	if v == "" {
		return nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return err
	}
	SetLevel(l)
	return nil
}

// With returns a sugared logger scoped with the given key/value pairs,
// e.g. logging.With("testrun_id", id).
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return S().With(keysAndValues...)
}
