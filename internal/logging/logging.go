// Package logging builds the process logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/keshon/salabot/internal/config"
)

// New returns a logger for appEnv: human readable at debug level in
// development, silent in tests and JSON at info level otherwise. verbose
// lowers production to debug.
func New(appEnv string, verbose bool) (*zap.Logger, error) {
	var cfg zap.Config
	switch appEnv {
	case config.EnvTest:
		return zap.NewNop(), nil
	case config.EnvDevelopment:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		cfg = zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
	}

	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}
