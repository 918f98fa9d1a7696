package datastore

import (
	"sync"
	"time"

	"github.com/tphakala/forestwatch/internal/logger"
)

// slowQueryThreshold is the duration above which gorm statements log at WARN.
const slowQueryThreshold = 200 * time.Millisecond

var (
	datastoreLogger logger.Logger
	initOnce        sync.Once
)

// GetLogger returns the datastore module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		datastoreLogger = logger.Global().Module("datastore")
	})
	return datastoreLogger
}

func createGormLogger() *logger.GormLoggerAdapter {
	return logger.NewGormLoggerAdapter(GetLogger().Module("gorm"), slowQueryThreshold)
}
