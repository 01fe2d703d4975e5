// Package logging builds the zap logger used across sensorhub.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Uranury/sensorhub/config"
)

// New returns a sugared logger for cfg.
//
// Format "console" (or "text") selects the human readable encoder, anything
// else JSON. Output "stderr" writes to stderr, anything else stdout. Every
// entry carries the service name and version.
func New(cfg config.LoggingConfig, version string) *zap.SugaredLogger {
	output := zapcore.Lock(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		output = zapcore.Lock(os.Stderr)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "console", "text":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, output, parseLevel(cfg.Level))
	return zap.New(core).
		With(zap.String("service", "sensorhub"), zap.String("version", version)).
		Sugar()
}

// parseLevel maps debug, info, warn and error to zap levels; unknown values mean info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Default is the logger used before the configuration is loaded.
func Default() *zap.SugaredLogger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
