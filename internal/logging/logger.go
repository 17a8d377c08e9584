// Package logging builds the process-wide zap logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON production logger in production and a console development logger otherwise.
// level is a zap level name; unknown or empty values fall back to info.
func New(level, env string) (*zap.Logger, error) {
	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			lvl = zapcore.InfoLevel
		}
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	return config.Build(zap.Fields(zap.String("service", "phoneauth")))
}

// Install sets logger as the zap global and returns a func restoring the previous one.
func Install(logger *zap.Logger) func() {
	return zap.ReplaceGlobals(logger)
}
