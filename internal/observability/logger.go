package observability

import (
	"sync"

	"github.com/tphakala/forestwatch/internal/logger"
)

var (
	observabilityLogger logger.Logger
	initOnce            sync.Once
)

// GetLogger returns the observability module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		observabilityLogger = logger.Global().Module("observability")
	})
	return observabilityLogger
}
