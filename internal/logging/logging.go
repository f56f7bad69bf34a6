// Package logging builds the structured logger every host process
// wires into the store, sync engine, and scheduler: the same zap
// usage threaded through internal/syncengine and internal/scheduler,
// plus an optional lumberjack-rotated file sink.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how logs are written. A zero-value Config
// produces a console-only logger at info level.
type Config struct {
	// FilePath, when non-empty, enables a rotating file sink at this
	// path alongside the console sink.
	FilePath string

	// MaxSizeMB is the size in megabytes before a log file is rotated.
	// Defaults to 100 when FilePath is set and this is zero.
	MaxSizeMB int

	// MaxBackups is the number of rotated files to retain. Defaults to
	// 5 when FilePath is set and this is zero.
	MaxBackups int

	// MaxAgeDays is the maximum age in days to retain rotated files.
	// Defaults to 28 when FilePath is set and this is zero.
	MaxAgeDays int

	// Debug enables debug-level logging; otherwise info-level.
	Debug bool
}

// New builds a *zap.Logger per cfg. Provider secrets (tokens, API
// keys) are the caller's responsibility to omit from logged fields;
// this package does not redact.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
	}

	if cfg.FilePath != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize == 0 {
			maxSize = 100
		}
		maxBackups := cfg.MaxBackups
		if maxBackups == 0 {
			maxBackups = 5
		}
		maxAge := cfg.MaxAgeDays
		if maxAge == 0 {
			maxAge = 28
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
