// Copyright 2024 EVMem Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logutil owns the process-wide zap logger. Components log
// through the package-level helpers; failure to log never propagates.
package logutil

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures the global logger. Zero values fall back to an
// info-level console logger on stderr.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error, fatal
	Level string `toml:"level"`

	// Format is either console or json
	Format string `toml:"format"`

	// Filename routes output to a rotated file instead of stderr
	Filename string `toml:"filename"`

	// MaxSize is the maximum size in MB before rotation
	MaxSize int `toml:"max-size"`

	// MaxDays is the maximum days to retain old files
	MaxDays int `toml:"max-days"`

	// MaxBackups is the maximum number of old files to retain
	MaxBackups int `toml:"max-backups"`
}

func (cfg *LogConfig) getLevel() zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}
	return level
}

func (cfg *LogConfig) getSyncer() zapcore.WriteSyncer {
	if cfg.Filename != "" {
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxAge:     cfg.MaxDays,
			MaxBackups: cfg.MaxBackups,
		})
	}
	return zapcore.AddSync(os.Stderr)
}

func (cfg *LogConfig) getEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Format == "json" {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

var globalLogger atomic.Pointer[zap.Logger]

// SetupLogger builds the global logger from cfg, replacing any previous
// one.
func SetupLogger(cfg *LogConfig) {
	core := zapcore.NewCore(cfg.getEncoder(), cfg.getSyncer(), cfg.getLevel())
	globalLogger.Store(zap.New(core))
}

// SetLogger replaces the global logger directly. Mainly for tests that
// want to observe log output.
func SetLogger(logger *zap.Logger) {
	globalLogger.Store(logger)
}

func GetGlobalLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	SetupLogger(&LogConfig{})
	return globalLogger.Load()
}

// Adjust returns the global logger when logger is nil, applying options
// to it. A non-nil logger is returned as is.
func Adjust(logger *zap.Logger, options ...zap.Option) *zap.Logger {
	if logger != nil {
		return logger
	}
	if len(options) == 0 {
		return GetGlobalLogger()
	}
	return GetGlobalLogger().WithOptions(options...)
}
