package imagery

import (
	"sync"

	"github.com/tphakala/forestwatch/internal/logger"
)

var (
	imageryLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the imagery module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		imageryLogger = logger.Global().Module("imagery")
	})
	return imageryLogger
}
