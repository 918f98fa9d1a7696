package analysis

import (
	"context"
	"time"

	"github.com/tphakala/forestwatch/internal/api"
	"github.com/tphakala/forestwatch/internal/buildinfo"
	"github.com/tphakala/forestwatch/internal/conf"
	"github.com/tphakala/forestwatch/internal/datastore"
	"github.com/tphakala/forestwatch/internal/logger"
	"github.com/tphakala/forestwatch/internal/observability"
	"github.com/tphakala/forestwatch/internal/observability/metrics"
	"github.com/tphakala/forestwatch/internal/prediction"
)

// Serve builds the prediction service and runs the HTTP server until ctx is
// cancelled. A model that fails to load does not stop the server; predict
// then answers 500 and /health reports the model as not ready.
func Serve(ctx context.Context, settings *conf.Settings, build *buildinfo.Context, opts ...api.ServerOption) error {
	log := GetLogger()
	start := time.Now()

	var m *observability.Metrics
	if settings.Telemetry.Metrics {
		var err error
		if m, err = observability.NewMetrics(); err != nil {
			return err
		}
	}

	model, err := loadModel(settings, m)
	if model == nil {
		return err
	}
	defer func() {
		if err := model.Close(); err != nil {
			log.Warn("failed to release model", logger.Error(err))
		}
	}()

	source, err := newSource(settings, m)
	if err != nil {
		return err
	}

	store := openHistory(settings)
	if store != nil {
		defer closeHistory(store)
	}

	var recorder metrics.Recorder
	if m != nil {
		recorder = m.Prediction
	}
	service, err := prediction.New(prediction.Config{
		Source:     source,
		Model:      model,
		Store:      store,
		Recorder:   recorder,
		BufferSize: settings.Imagery.BufferSize,
	})
	if err != nil {
		return err
	}

	serverOpts := []api.ServerOption{api.WithBuildInfo(build)}
	if store != nil {
		serverOpts = append(serverOpts, api.WithHistory(store))
	}
	if m != nil {
		serverOpts = append(serverOpts, api.WithMetrics(m))
	}
	server, err := api.New(api.ConfigFromSettings(settings), service, append(serverOpts, opts...)...)
	if err != nil {
		return err
	}

	log.Info("forestwatch ready",
		logger.String("version", build.Version()),
		logger.String("service", service.String()),
		logger.Duration("startup", time.Since(start)))

	return server.Run(ctx)
}

func closeHistory(store datastore.Interface) {
	if err := store.Close(); err != nil {
		GetLogger().Warn("failed to close history store", logger.Error(err))
	}
}
