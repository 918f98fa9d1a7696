package conf

import (
	"sync"

	"github.com/tphakala/forestwatch/internal/logger"
)

var (
	confLogger logger.Logger
	initOnce   sync.Once
)

// GetLogger returns the configuration module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		confLogger = logger.Global().Module("conf")
	})
	return confLogger
}
