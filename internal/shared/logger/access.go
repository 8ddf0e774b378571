package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewAccessLogger builds the zap logger used for per-request access lines.
// Access logs are always JSON so they can be shipped as-is.
func NewAccessLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = parseAccessLevel(level)
	config.Sampling = nil

	return config.Build()
}

func parseAccessLevel(s string) zap.AtomicLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case logLevelDebug:
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case logLevelWarn, "WARNING":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case logLevelError:
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
