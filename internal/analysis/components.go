// Package analysis wires configured components into the serve, train and
// predict run modes.
package analysis

import (
	"sync"

	"github.com/tphakala/forestwatch/internal/classifier"
	"github.com/tphakala/forestwatch/internal/conf"
	"github.com/tphakala/forestwatch/internal/datastore"
	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/imagery"
	"github.com/tphakala/forestwatch/internal/logger"
	"github.com/tphakala/forestwatch/internal/observability"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the analysis package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("analysis")
	})
	return serviceLogger
}

// newModel creates the configured classifier without loading weights.
func newModel(settings *conf.Settings) (classifier.Model, error) {
	return classifier.New(classifier.Kind(settings.Model.Kind), classifier.ConfigFromSettings(&settings.Model))
}

// loadModel creates the classifier and loads settings.Model.Path. A load
// failure is logged and the empty model is returned with the error, so the
// caller decides whether an unready model is acceptable.
func loadModel(settings *conf.Settings, m *observability.Metrics) (classifier.Model, error) {
	model, err := newModel(settings)
	if err != nil {
		return nil, err
	}

	log := GetLogger()
	loadErr := model.Load(settings.Model.Path)
	if m != nil {
		m.Prediction.RecordModelLoad(settings.Model.Kind, loadErr)
	}
	if loadErr != nil {
		log.Error("model could not be loaded, train it first",
			logger.String("model_kind", settings.Model.Kind),
			logger.String("path", settings.Model.Path),
			logger.Error(loadErr))
		return model, loadErr
	}

	log.Info("model loaded",
		logger.String("model_kind", settings.Model.Kind),
		logger.String("path", settings.Model.Path))
	return model, nil
}

// newSource builds the configured image source, wrapped in the cache when
// enabled.
func newSource(settings *conf.Settings, m *observability.Metrics) (imagery.Source, error) {
	cfg := settings.Imagery

	var source imagery.Source
	switch cfg.Provider {
	case conf.ImageryProviderRemote:
		remote, err := imagery.NewRemoteSource(imagery.RemoteConfig{
			BaseURL:   cfg.Remote.BaseURL,
			APIKey:    cfg.Remote.APIKey,
			Timeout:   cfg.Remote.Timeout,
			RateLimit: cfg.Remote.RateLimit,
			Burst:     cfg.Remote.Burst,
		})
		if err != nil {
			return nil, err
		}
		source = remote
	case conf.ImageryProviderSynthetic, "":
		source = imagery.NewSyntheticSource(cfg.Seed)
	default:
		return nil, errors.Newf("unknown imagery provider %q", cfg.Provider).
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if !cfg.Cache.Enabled {
		return source, nil
	}

	var observer imagery.LookupObserver
	if m != nil {
		observer = m.Prediction.RecordCacheLookup
	}
	GetLogger().Info("image cache enabled",
		logger.String("source", source.Name()),
		logger.Duration("ttl", cfg.Cache.TTL))
	return imagery.NewCachedSource(source, cfg.Cache.TTL, observer), nil
}

// openHistory opens the configured history store. It returns nil when
// history is disabled or the store cannot be opened; the latter is logged
// and the server runs without history.
func openHistory(settings *conf.Settings) datastore.Interface {
	store := datastore.New(settings)
	if store == nil {
		GetLogger().Info("prediction history disabled")
		return nil
	}
	if err := store.Open(); err != nil {
		GetLogger().Error("failed to open history store, continuing without history",
			logger.String("type", settings.History.Type),
			logger.Error(err))
		return nil
	}
	return store
}
