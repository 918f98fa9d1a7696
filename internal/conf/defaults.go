// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultBufferSize is the imagery window, in pixels, requested per coordinate.
const DefaultBufferSize = 256

// DefaultModelPath is where train writes and serve loads the CNN weights.
const DefaultModelPath = "models/cnn_deforestation.gob"

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/forestwatch.log")
	v.SetDefault("logging.file_output.level", "info")
	v.SetDefault("logging.module_levels", map[string]string{})

	v.SetDefault("model.kind", ModelKindCNN)
	v.SetDefault("model.path", DefaultModelPath)
	v.SetDefault("model.num_classes", 3)
	v.SetDefault("model.threads", 0)
	v.SetDefault("model.epochs", 10)
	v.SetDefault("model.batch_size", 32)
	v.SetDefault("model.learning_rate", 0.001)
	v.SetDefault("model.seed", 0)
	v.SetDefault("model.onnx_library", "")

	v.SetDefault("imagery.provider", ImageryProviderSynthetic)
	v.SetDefault("imagery.buffer_size", DefaultBufferSize)
	v.SetDefault("imagery.seed", 0)
	v.SetDefault("imagery.remote.base_url", "")
	v.SetDefault("imagery.remote.api_key", "")
	v.SetDefault("imagery.remote.api_key_file", "")
	v.SetDefault("imagery.remote.timeout", 10*time.Second)
	v.SetDefault("imagery.remote.rate_limit", 5.0)
	v.SetDefault("imagery.remote.burst", 5)
	v.SetDefault("imagery.cache.enabled", false)
	v.SetDefault("imagery.cache.ttl", 15*time.Minute)

	v.SetDefault("webserver.host", "0.0.0.0")
	v.SetDefault("webserver.port", 5000)
	v.SetDefault("webserver.mapbox_token", "YOUR_MAPBOX_TOKEN")
	v.SetDefault("webserver.mapbox_token_file", "")
	v.SetDefault("webserver.body_limit", "64K")
	v.SetDefault("webserver.shutdown_timeout", 10*time.Second)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.type", HistorySQLite)
	v.SetDefault("history.sqlite.path", "data/forestwatch.db")
	v.SetDefault("history.mysql.host", "localhost")
	v.SetDefault("history.mysql.port", 3306)
	v.SetDefault("history.mysql.username", "")
	v.SetDefault("history.mysql.password", "")
	v.SetDefault("history.mysql.password_file", "")
	v.SetDefault("history.mysql.database", "forestwatch")

	v.SetDefault("telemetry.metrics", true)
	v.SetDefault("telemetry.sentry.enabled", false)
	v.SetDefault("telemetry.sentry.dsn", "")
	v.SetDefault("telemetry.sentry.environment", "production")
	v.SetDefault("telemetry.sentry.sample_rate", 1.0)

	v.SetDefault("training.data_dir", "")
	v.SetDefault("training.samples", 200)
	v.SetDefault("training.validation_split", 0.8)
	v.SetDefault("training.seed", 0)
}
