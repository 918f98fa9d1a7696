package classifier

import (
	"sync"

	"github.com/tphakala/forestwatch/internal/logger"
)

var (
	classifierLogger logger.Logger
	initOnce         sync.Once
)

// GetLogger returns the classifier module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		classifierLogger = logger.Global().Module("classifier")
	})
	return classifierLogger
}
