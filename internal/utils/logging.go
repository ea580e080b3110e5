package utils

import (
	"os"

	"go.uber.org/zap"
)

// NewLogger returns the service-wide structured logger. LOG_ENV=development
// switches to the human-readable development encoder.
func NewLogger() *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if os.Getenv("LOG_ENV") == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return logger
}
