// Package logutil provides the process-wide structured logger.
package logutil

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

var (
	once   sync.Once
	logger *zap.Logger
)

// InitLogger builds the process-wide logger. Safe to call more than once;
// only the first call takes effect.
func InitLogger() {
	once.Do(func() {
		var l *zap.Logger
		var err error
		if os.Getenv("TRACECORE_DEBUG") == "1" {
			l, err = zap.NewDevelopment()
		} else {
			l, err = zap.NewProduction()
		}
		if err != nil {
			l = zap.NewNop()
		}
		logger = l
	})
}

// GetLogger returns the process-wide logger, initializing it with
// production defaults if InitLogger was never called.
func GetLogger() *zap.Logger {
	if logger == nil {
		InitLogger()
	}
	return logger
}
