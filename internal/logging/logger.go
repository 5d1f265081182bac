/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger and Sugar are nil until Initialize or SetLogger runs.
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json", "console"
}

// Initialize reads LOQA_LOG_LEVEL and LOQA_LOG_FORMAT and installs the global logger.
func Initialize() error {
	return InitializeWithConfig(LogConfig{
		Level:  envOr("LOQA_LOG_LEVEL", "info"),
		Format: envOr("LOQA_LOG_FORMAT", "console"),
	})
}

// InitializeWithConfig installs a global logger built from cfg. Unknown levels fall
// back to info and unknown formats to console.
func InitializeWithConfig(cfg LogConfig) error {
	logger, err := zapConfig(cfg).Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	if err != nil {
		return err
	}

	SetLogger(logger)
	Sugar.Infof("🚀 Logging ready (level: %s, format: %s)", cfg.Level, cfg.Format)
	return nil
}

func zapConfig(cfg LogConfig) zap.Config {
	zc := zap.NewDevelopmentConfig()
	if strings.EqualFold(cfg.Format, "json") {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if lvl, err := zapcore.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc
}

// SetLogger replaces the global logger. Tests pass an observer core here; nil turns
// every helper into a no-op.
func SetLogger(logger *zap.Logger) {
	Logger = logger
	Sugar = nil
	if logger != nil {
		Sugar = logger.Sugar()
	}
}

// L returns the global logger, or a no-op logger before initialization.
func L() *zap.Logger {
	if Logger == nil {
		return zap.NewNop()
	}
	return Logger
}

// S is the sugared counterpart of L.
func S() *zap.SugaredLogger {
	if Sugar == nil {
		return zap.NewNop().Sugar()
	}
	return Sugar
}

// Sync flushes buffered entries. Errors from syncing a terminal are ignored.
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Close flushes the global logger.
func Close() {
	Sync()
}

// emit writes one entry tagged with component. The leading pairs become string fields
// ahead of the caller's extras.
func emit(level zapcore.Level, component, message string, pairs []string, extra []zap.Field) {
	if Logger == nil {
		return
	}

	fields := make([]zap.Field, 0, 1+len(pairs)/2+len(extra))
	fields = append(fields, zap.String("component", component))
	for i := 0; i+1 < len(pairs); i += 2 {
		fields = append(fields, zap.String(pairs[i], pairs[i+1]))
	}
	fields = append(fields, extra...)

	if ce := Logger.WithOptions(zap.AddCallerSkip(1)).Check(level, message); ce != nil {
		ce.Write(fields...)
	}
}

// LogTranslation records the outcome of a translation call.
func LogTranslation(provider, requestID, message string, fields ...zap.Field) {
	emit(zap.InfoLevel, "translation", message,
		[]string{"provider", provider, "request_id", requestID}, fields)
}

// LogProviderFailure records a failed provider attempt with its category.
func LogProviderFailure(provider, category string, fields ...zap.Field) {
	emit(zap.WarnLevel, "provider", "⚠️ Provider call failed",
		[]string{"provider", provider, "category", category}, fields)
}

// LogKeyRotation records a credential switch. Callers pass masked keys only.
func LogKeyRotation(service, from, to string, fields ...zap.Field) {
	emit(zap.InfoLevel, "keys", "🔑 Rotated API key",
		[]string{"service", service, "from", from, "to", to}, fields)
}

func LogAudioSegment(sessionID, stage string, fields ...zap.Field) {
	emit(zap.DebugLevel, "audio_pipeline", "🎙️ Audio pipeline",
		[]string{"session_id", sessionID, "stage", stage}, fields)
}

func LogNATSEvent(subject, action string, fields ...zap.Field) {
	emit(zap.InfoLevel, "messaging", "NATS event",
		[]string{"subject", subject, "action", action}, fields)
}

func LogDatabaseOperation(operation, table string, fields ...zap.Field) {
	emit(zap.DebugLevel, "database", "Database operation",
		[]string{"operation", operation, "table", table}, fields)
}

// LogError logs message at error level with err attached.
func LogError(err error, message string, fields ...zap.Field) {
	if Logger == nil {
		return
	}
	Logger.Error(message, append([]zap.Field{zap.Error(err)}, fields...)...)
}

func LogWarn(message string, fields ...zap.Field) {
	if Logger == nil {
		return
	}
	Logger.Warn(message, fields...)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
