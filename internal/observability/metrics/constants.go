package metrics

// Operation names passed to Recorder.
const (
	// OpPrediction is a full coordinate prediction.
	OpPrediction = "prediction"
	// OpImageFetch is an image source lookup.
	OpImageFetch = "image_fetch"
	// OpInference is a single model forward pass.
	OpInference = "inference"
	// OpHistorySave is a prediction history insert.
	OpHistorySave = "history_save"
	// OpModelLoad is a model file load.
	OpModelLoad = "model_load"
	// OpTrainingEpoch is one training epoch.
	OpTrainingEpoch = "training_epoch"
)

// Operation statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Cache lookup results.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Histogram bucket parameters.
const (
	BucketStart1ms  = 0.001
	BucketFactor2   = 2.0
	BucketCount12   = 12
	BucketStart10ms = 0.01
	BucketCount10   = 10
)

const namespace = "forestwatch"
