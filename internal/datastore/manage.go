package datastore

import (
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/forestwatch/internal/logger"
)

// performAutoMigration migrates the history schema.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	migrationStart := time.Now()
	migrationLogger := GetLogger().With(logger.String("db_type", dbType))

	migrationLogger.Debug("Starting database migration")

	if err := db.AutoMigrate(&PredictionRecord{}); err != nil {
		return dbError(err, "auto_migrate", "db_type", dbType)
	}

	fields := []logger.Field{
		logger.String("db_type", dbType),
		logger.Duration("total_duration", time.Since(migrationStart)),
	}
	if debug {
		fields = append(fields, logger.String("connection", connectionInfo))
	}
	migrationLogger.Debug("Database migration completed successfully", fields...)

	return nil
}
