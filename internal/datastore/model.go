package datastore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PredictionRecord is one answered coordinate prediction.
type PredictionRecord struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lon"`
	Status     string    `gorm:"type:varchar(16);index" json:"status"`
	Confidence float64   `json:"confidence"`
	ModelKind  string    `gorm:"type:varchar(16)" json:"model_kind"`
	DurationMs int64     `json:"duration_ms"`
}

// TableName pins the table name independent of gorm naming strategy.
func (PredictionRecord) TableName() string {
	return "prediction_records"
}

// BeforeCreate assigns a random UUID when the caller did not set one.
func (r *PredictionRecord) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
