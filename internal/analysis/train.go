package analysis

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/forestwatch/internal/classifier"
	"github.com/tphakala/forestwatch/internal/conf"
	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/imagery"
	"github.com/tphakala/forestwatch/internal/logger"
	"github.com/tphakala/forestwatch/internal/observability"
)

// TrainOptions controls a training run beyond the model and training settings.
type TrainOptions struct {
	// MetricsTextfile, when set, receives the training metrics in the
	// Prometheus text format after the run.
	MetricsTextfile string
}

// loadTrainingData returns the directory dataset, or a synthetic one when no
// directory is configured. Directory datasets are shuffled because they are
// read class by class.
func loadTrainingData(settings *conf.Settings) (*imagery.Dataset, error) {
	training := settings.Training
	numClasses := settings.Model.NumClasses
	if numClasses <= 0 {
		numClasses = classifier.DefaultNumClasses
	}

	if training.DataDir == "" {
		GetLogger().Info("using synthetic training data",
			logger.Int("samples", training.Samples),
			logger.Int("classes", numClasses))
		return imagery.SyntheticDataset(training.Samples, numClasses, training.Seed)
	}

	dirs := classifier.DatasetDirs()
	if numClasses > len(dirs) {
		return nil, errors.Newf("%d classes requested but only %d dataset directories are defined", numClasses, len(dirs)).
			Component("analysis").
			Category(errors.CategoryValidation).
			Build()
	}
	ds, err := imagery.LoadDataset(training.DataDir, dirs[:numClasses])
	if err != nil {
		return nil, err
	}

	seed := training.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano()) //nolint:gosec // G115: any bit pattern is a valid seed
	}
	imagery.Shuffle(ds, rand.New(rand.NewPCG(seed, seed>>1))) //nolint:gosec // G404: not used for security
	return ds, nil
}

// Train fits the configured model on the training data and saves it to
// settings.Model.Path.
func Train(ctx context.Context, settings *conf.Settings, opts TrainOptions) (*classifier.History, error) {
	log := GetLogger()
	start := time.Now()

	var m *observability.Metrics
	if opts.MetricsTextfile != "" {
		var err error
		if m, err = observability.NewMetrics(); err != nil {
			return nil, err
		}
	}

	ds, err := loadTrainingData(settings)
	if err != nil {
		return nil, err
	}
	train, val := imagery.Split(ds, settings.Training.ValidationSplit)
	log.Info("dataset split",
		logger.Int("train", train.Len()),
		logger.Int("validation", val.Len()))

	cfg := classifier.ConfigFromSettings(&settings.Model)
	cfg.OnEpoch = func(stats classifier.EpochStats) {
		fields := []logger.Field{
			logger.Int("epoch", stats.Epoch),
			logger.Float64("loss", stats.Loss),
			logger.Float64("accuracy", stats.Accuracy),
		}
		if stats.HasValidation {
			fields = append(fields,
				logger.Float64("val_loss", stats.ValLoss),
				logger.Float64("val_accuracy", stats.ValAccuracy))
		}
		log.Info("epoch finished", fields...)
		if m != nil {
			m.Prediction.RecordEpoch(stats.Loss, stats.Accuracy, stats.HasValidation, stats.ValLoss, stats.ValAccuracy)
		}
	}

	model, err := classifier.New(classifier.Kind(settings.Model.Kind), cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = model.Close() }()

	history, err := model.Train(ctx, train, val)
	if err != nil {
		return nil, err
	}
	if err := model.Save(settings.Model.Path); err != nil {
		return history, err
	}

	final, _ := history.Final()
	log.Info("training complete",
		logger.String("path", settings.Model.Path),
		logger.Int("epochs", len(history.Epochs)),
		logger.Float64("accuracy", final.Accuracy),
		logger.Duration("elapsed", time.Since(start)))

	if m != nil {
		if err := prometheus.WriteToTextfile(opts.MetricsTextfile, m.Registry()); err != nil {
			log.Warn("failed to write metrics textfile",
				logger.String("path", opts.MetricsTextfile),
				logger.Error(err))
		}
	}
	return history, nil
}
