// Package logger provides structured logging with zap.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a new zap.Logger depending on the environment.
func New(env string) *zap.Logger {
	if env == "production" {
		logger, _ := productionConfig().Build()
		return logger
	}
	logger, _ := zap.NewDevelopment()
	return logger
}

// productionConfig logs JSON with RFC3339 timestamps so the intake trail is
// greppable by the same timestamps that land in the sheet.
func productionConfig() zap.Config {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	return cfg
}
