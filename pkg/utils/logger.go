package utils

import "go.uber.org/zap"

// NewLogger builds the process logger: human-readable at debug level during
// development, JSON at info level otherwise.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
		return cfg.Build()
	}
	return zap.NewProduction()
}
