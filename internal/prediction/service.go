// Package prediction turns a coordinate into a land-cover prediction.
//
// A Service fetches an image for the coordinate, normalises it, runs the
// classifier and attaches a simulated time series for charting. Answered
// predictions are optionally persisted to the history store.
package prediction

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tphakala/forestwatch/internal/classifier"
	"github.com/tphakala/forestwatch/internal/datastore"
	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/imagery"
	"github.com/tphakala/forestwatch/internal/logger"
	"github.com/tphakala/forestwatch/internal/observability/metrics"
)

// HistoryStore persists answered predictions.
type HistoryStore interface {
	SavePrediction(ctx context.Context, record *datastore.PredictionRecord) error
}

// Response is the prediction returned to clients.
type Response struct {
	Status      string     `json:"status"`
	Confidence  float64    `json:"confidence"`
	Coordinates [2]float64 `json:"coordinates"` // lat, lon
	TimeSeries  TimeSeries `json:"time_series"`
}

// Config holds the dependencies of a Service. Source and Model are required.
type Config struct {
	Source     imagery.Source
	Model      classifier.Model
	Store      HistoryStore     // nil disables history
	Recorder   metrics.Recorder // nil disables metrics
	Logger     logger.Logger
	BufferSize int        // defaults to imagery.DefaultBufferSize
	Rand       *rand.Rand // time series generator, time seeded when nil
}

// Service answers coordinate predictions. It is safe for concurrent use.
type Service struct {
	source     imagery.Source
	model      classifier.Model
	store      HistoryStore
	recorder   metrics.Recorder
	log        logger.Logger
	bufferSize int

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New validates cfg and creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Source == nil {
		return nil, errors.Newf("prediction service requires an image source").
			Component("prediction").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.Model == nil {
		return nil, errors.Newf("prediction service requires a model").
			Component("prediction").
			Category(errors.CategoryValidation).
			Build()
	}

	s := &Service{
		source:     cfg.Source,
		model:      cfg.Model,
		store:      cfg.Store,
		recorder:   cfg.Recorder,
		log:        cfg.Logger,
		bufferSize: cfg.BufferSize,
		rng:        cfg.Rand,
	}
	if s.recorder == nil {
		s.recorder = metrics.NopRecorder{}
	}
	if s.log == nil {
		s.log = GetLogger()
	}
	if s.bufferSize <= 0 {
		s.bufferSize = imagery.DefaultBufferSize
	}
	if s.rng == nil {
		seed := uint64(time.Now().UnixNano())
		s.rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return s, nil
}

// ModelKind returns the kind of the configured classifier.
func (s *Service) ModelKind() string { return string(s.model.Kind()) }

// ModelReady reports whether the classifier has weights.
func (s *Service) ModelReady() bool { return s.model.Ready() }

// TimeSeries returns a fresh simulated time series.
func (s *Service) TimeSeries() TimeSeries {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return GenerateTimeSeries(s.rng)
}

// PredictForCoordinate classifies the image at (lat, lon).
//
// Errors wrap ErrClientInput when no image is available for the coordinate
// and ErrInternal otherwise, including recovered panics.
func (s *Service) PredictForCoordinate(ctx context.Context, lat, lon float64) (resp *Response, err error) {
	start := time.Now()
	coord := imagery.Coordinate{Latitude: lat, Longitude: lon}
	log := s.log.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error("prediction panicked",
				logger.Float64("lat", lat),
				logger.Float64("lon", lon),
				logger.Any("panic", r))
			resp = nil
			err = internalError(errors.Newf("panic during prediction: %v", r).
				Component("prediction").
				Category(errors.CategoryProcessing).
				CoordinateContext(lat, lon).
				Build())
		}
		s.recordPrediction(time.Since(start), err)
	}()

	img, err := s.fetch(ctx, coord)
	if err != nil {
		if errors.Is(err, imagery.ErrImageUnavailable) {
			log.Info("no image for coordinate",
				logger.Float64("lat", lat),
				logger.Float64("lon", lon),
				logger.Error(err))
			return nil, clientError(err)
		}
		return nil, internalError(err)
	}

	result, err := s.infer(imagery.Normalize(img))
	if err != nil {
		log.Warn("inference failed",
			logger.String("model", s.ModelKind()),
			logger.Error(err))
		return nil, internalError(err)
	}

	resp = &Response{
		Status:      result.Label.String(),
		Confidence:  result.Confidence,
		Coordinates: [2]float64{lat, lon},
		TimeSeries:  s.TimeSeries(),
	}

	elapsed := time.Since(start)
	s.saveHistory(ctx, coord, result, elapsed)

	log.Debug("prediction completed",
		logger.String("status", resp.Status),
		logger.Float64("confidence", resp.Confidence),
		logger.Duration("duration", elapsed))
	return resp, nil
}

func (s *Service) fetch(ctx context.Context, coord imagery.Coordinate) (*imagery.Image, error) {
	start := time.Now()
	img, err := imagery.SafeFetch(ctx, s.source, coord, s.bufferSize)
	s.recordOperation(metrics.OpImageFetch, time.Since(start), err)
	if r, ok := s.recorder.(metrics.ImageFetchRecorder); ok {
		r.RecordImageFetch(s.source.Name(), err)
	}
	return img, err
}

func (s *Service) infer(img *imagery.Image) (classifier.Result, error) {
	start := time.Now()
	result, err := s.model.Predict(img)
	s.recordOperation(metrics.OpInference, time.Since(start), err)
	return result, err
}

// saveHistory persists the prediction. Failures are logged and never surface to the caller.
func (s *Service) saveHistory(ctx context.Context, coord imagery.Coordinate, result classifier.Result, elapsed time.Duration) {
	if s.store == nil {
		return
	}
	record := &datastore.PredictionRecord{
		Latitude:   coord.Latitude,
		Longitude:  coord.Longitude,
		Status:     result.Label.String(),
		Confidence: result.Confidence,
		ModelKind:  s.ModelKind(),
		DurationMs: elapsed.Milliseconds(),
	}

	start := time.Now()
	err := s.store.SavePrediction(ctx, record)
	s.recordOperation(metrics.OpHistorySave, time.Since(start), err)
	if err != nil {
		s.log.Warn("failed to save prediction history",
			logger.String("operation", metrics.OpHistorySave),
			logger.Error(err))
	}
}

func (s *Service) recordOperation(op string, elapsed time.Duration, err error) {
	if err != nil {
		s.recorder.RecordOperation(op, metrics.StatusError)
		s.recorder.RecordError(op, metrics.CategorizeError(err))
		return
	}
	s.recorder.RecordOperation(op, metrics.StatusSuccess)
	s.recorder.RecordDuration(op, elapsed.Seconds())
}

func (s *Service) recordPrediction(elapsed time.Duration, err error) {
	s.recordOperation(metrics.OpPrediction, elapsed, err)
	if r, ok := s.recorder.(metrics.PredictionRecorder); ok {
		r.RecordPrediction(s.ModelKind(), elapsed.Seconds(), err)
	}
}

// String describes the service wiring for startup logs.
func (s *Service) String() string {
	return fmt.Sprintf("prediction.Service{source=%s model=%s ready=%t history=%t}",
		s.source.Name(), s.ModelKind(), s.ModelReady(), s.store != nil)
}
