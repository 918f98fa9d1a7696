package prediction

import (
	"sync"

	"github.com/tphakala/forestwatch/internal/logger"
)

var (
	predictionLogger logger.Logger
	initOnce         sync.Once
)

// GetLogger returns the prediction module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		predictionLogger = logger.Global().Module("prediction")
	})
	return predictionLogger
}
