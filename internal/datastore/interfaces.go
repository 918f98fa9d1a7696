// interfaces.go: this code defines the interface for the history database operations
package datastore

import (
	"context"

	"gorm.io/gorm"

	"github.com/tphakala/forestwatch/internal/conf"
)

// MaxRecentLimit caps RecentPredictions page sizes.
const MaxRecentLimit = 500

// Interface abstracts the underlying database implementation.
type Interface interface {
	Open() error
	SavePrediction(ctx context.Context, record *PredictionRecord) error
	RecentPredictions(ctx context.Context, limit int) ([]PredictionRecord, error)
	CountPredictions(ctx context.Context) (int64, error)
	Close() error
}

// DataStore implements the shared query methods on a GORM database.
type DataStore struct {
	DB *gorm.DB
}

// New returns the store selected by settings, or nil when history is disabled.
func New(settings *conf.Settings) Interface {
	if !settings.History.Enabled {
		return nil
	}
	switch settings.History.Type {
	case conf.HistoryMySQL:
		return &MySQLStore{Settings: settings}
	default:
		return &SQLiteStore{Settings: settings}
	}
}

// SavePrediction inserts record. A missing ID is filled in before insert.
func (ds *DataStore) SavePrediction(ctx context.Context, record *PredictionRecord) error {
	if ds.DB == nil {
		return errNotInitialized("save_prediction")
	}
	if record == nil {
		return validationError("prediction record is nil", "record", nil)
	}
	if err := ds.DB.WithContext(ctx).Create(record).Error; err != nil {
		return dbError(err, "save_prediction", "record_id", record.ID)
	}
	return nil
}

// RecentPredictions returns up to limit records, newest first.
func (ds *DataStore) RecentPredictions(ctx context.Context, limit int) ([]PredictionRecord, error) {
	if ds.DB == nil {
		return nil, errNotInitialized("recent_predictions")
	}
	if limit <= 0 {
		return nil, validationError("limit must be positive", "limit", limit)
	}
	limit = min(limit, MaxRecentLimit)

	var records []PredictionRecord
	err := ds.DB.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, dbError(err, "recent_predictions", "limit", limit)
	}
	return records, nil
}

// CountPredictions returns the number of stored records.
func (ds *DataStore) CountPredictions(ctx context.Context) (int64, error) {
	if ds.DB == nil {
		return 0, errNotInitialized("count_predictions")
	}
	var count int64
	if err := ds.DB.WithContext(ctx).Model(&PredictionRecord{}).Count(&count).Error; err != nil {
		return 0, dbError(err, "count_predictions")
	}
	return count, nil
}

// Close closes the underlying connection pool.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return errNotInitialized("close")
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	return nil
}
