package datastore

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/forestwatch/internal/conf"
	"github.com/tphakala/forestwatch/internal/logger"
)

// SQLiteStore implements Interface for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

func validateSQLiteConfig(settings *conf.Settings) error {
	if settings == nil || settings.History.SQLite.Path == "" {
		return validationError("sqlite path is required", "history.sqlite.path", "")
	}
	return nil
}

// Open creates the database directory if needed, opens the database and migrates it.
func (store *SQLiteStore) Open() error {
	if err := validateSQLiteConfig(store.Settings); err != nil {
		return err
	}

	path := store.Settings.History.SQLite.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return dbError(err, "create_directory", "path", path)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		GetLogger().Error("Failed to open SQLite database",
			logger.String("path", path),
			logger.Error(err))
		return dbError(err, "open", "db_type", "sqlite")
	}

	store.DB = db
	return performAutoMigration(db, store.Settings.Debug, "SQLite", path)
}
