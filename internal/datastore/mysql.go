package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/forestwatch/internal/conf"
	"github.com/tphakala/forestwatch/internal/logger"
)

// MySQLStore implements Interface for MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

func validateMySQLConfig(settings *conf.Settings) error {
	if settings == nil {
		return validationError("settings are required", "history.mysql", "")
	}
	cfg := settings.History.MySQL
	if cfg.Host == "" {
		return validationError("mysql host is required", "history.mysql.host", "")
	}
	if cfg.Database == "" {
		return validationError("mysql database is required", "history.mysql.database", "")
	}
	return nil
}

func mysqlDSN(cfg conf.MySQLSettings) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
}

// Open connects to MySQL and migrates the schema.
func (store *MySQLStore) Open() error {
	if err := validateMySQLConfig(store.Settings); err != nil {
		return err
	}

	cfg := store.Settings.History.MySQL
	db, err := gorm.Open(mysql.Open(mysqlDSN(cfg)), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		GetLogger().Error("Failed to open MySQL database",
			logger.String("host", cfg.Host),
			logger.Int("port", cfg.Port),
			logger.String("database", cfg.Database),
			logger.Error(err))
		return dbError(err, "open", "db_type", "mysql", "host", cfg.Host)
	}

	store.DB = db
	// connection info without credentials
	info := fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	return performAutoMigration(db, store.Settings.Debug, "MySQL", info)
}
