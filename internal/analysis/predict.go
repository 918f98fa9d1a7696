package analysis

import (
	"context"

	"github.com/tphakala/forestwatch/internal/conf"
	"github.com/tphakala/forestwatch/internal/prediction"
)

// PredictOnce answers a single coordinate with the configured model and
// source. Unlike Serve it fails when the model cannot be loaded, and the
// result is not written to history.
func PredictOnce(ctx context.Context, settings *conf.Settings, lat, lon float64) (*prediction.Response, error) {
	model, err := loadModel(settings, nil)
	if err != nil {
		if model != nil {
			_ = model.Close()
		}
		return nil, err
	}
	defer func() { _ = model.Close() }()

	source, err := newSource(settings, nil)
	if err != nil {
		return nil, err
	}

	service, err := prediction.New(prediction.Config{
		Source:     source,
		Model:      model,
		BufferSize: settings.Imagery.BufferSize,
	})
	if err != nil {
		return nil, err
	}
	return service.PredictForCoordinate(ctx, lat, lon)
}
