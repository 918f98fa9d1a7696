// conf/config.go settings structure and loading
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/forestwatch/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Model kinds understood by the classifier registry.
const (
	ModelKindCNN    = "cnn"
	ModelKindTFLite = "tflite"
	ModelKindONNX   = "onnx"
)

// Imagery providers.
const (
	ImageryProviderSynthetic = "synthetic"
	ImageryProviderRemote    = "remote"
)

// History backends.
const (
	HistorySQLite = "sqlite"
	HistoryMySQL  = "mysql"
)

// ModelSettings configures the classifier.
type ModelSettings struct {
	Kind         string  `mapstructure:"kind" yaml:"kind"`                   // cnn, tflite or onnx
	Path         string  `mapstructure:"path" yaml:"path"`                   // model file loaded at startup and written by train
	NumClasses   int     `mapstructure:"num_classes" yaml:"num_classes"`     // classifier output width
	Threads      int     `mapstructure:"threads" yaml:"threads"`             // inference threads for tflite/onnx, 0 = runtime default
	Epochs       int     `mapstructure:"epochs" yaml:"epochs"`               // training passes
	BatchSize    int     `mapstructure:"batch_size" yaml:"batch_size"`       // training mini-batch size
	LearningRate float64 `mapstructure:"learning_rate" yaml:"learning_rate"` // Adam learning rate
	Seed         uint64  `mapstructure:"seed" yaml:"seed"`                   // weight init seed, 0 = time based
	ONNXLibrary  string  `mapstructure:"onnx_library" yaml:"onnx_library"`   // path to onnxruntime shared library
}

// RemoteImagerySettings configures the HTTP tile provider.
type RemoteImagerySettings struct {
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`           // may reference ${ENV}
	APIKeyFile string        `mapstructure:"api_key_file" yaml:"api_key_file"` // overrides APIKey
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second
	Burst      int           `mapstructure:"burst" yaml:"burst"`
}

// ImageCacheSettings configures the in-memory image cache.
type ImageCacheSettings struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// ImagerySettings configures where images come from.
type ImagerySettings struct {
	Provider   string                `mapstructure:"provider" yaml:"provider"`
	BufferSize int                   `mapstructure:"buffer_size" yaml:"buffer_size"`
	Seed       uint64                `mapstructure:"seed" yaml:"seed"` // synthetic source seed, 0 = time based
	Remote     RemoteImagerySettings `mapstructure:"remote" yaml:"remote"`
	Cache      ImageCacheSettings    `mapstructure:"cache" yaml:"cache"`
}

// WebServerSettings configures the HTTP server.
type WebServerSettings struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	MapboxToken     string        `mapstructure:"mapbox_token" yaml:"mapbox_token"`
	MapboxTokenFile string        `mapstructure:"mapbox_token_file" yaml:"mapbox_token_file"`
	BodyLimit       string        `mapstructure:"body_limit" yaml:"body_limit"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SQLiteSettings configures the sqlite history backend.
type SQLiteSettings struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// MySQLSettings configures the mysql history backend.
type MySQLSettings struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Username     string `mapstructure:"username" yaml:"username"`
	Password     string `mapstructure:"password" yaml:"password"`
	PasswordFile string `mapstructure:"password_file" yaml:"password_file"`
	Database     string `mapstructure:"database" yaml:"database"`
}

// HistorySettings configures prediction history storage.
type HistorySettings struct {
	Enabled bool           `mapstructure:"enabled" yaml:"enabled"`
	Type    string         `mapstructure:"type" yaml:"type"`
	SQLite  SQLiteSettings `mapstructure:"sqlite" yaml:"sqlite"`
	MySQL   MySQLSettings  `mapstructure:"mysql" yaml:"mysql"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	DSN         string  `mapstructure:"dsn" yaml:"dsn"`
	Environment string  `mapstructure:"environment" yaml:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// TelemetrySettings groups metrics and error reporting.
type TelemetrySettings struct {
	Metrics bool           `mapstructure:"metrics" yaml:"metrics"`
	Sentry  SentrySettings `mapstructure:"sentry" yaml:"sentry"`
}

// TrainingSettings configures the train command dataset.
type TrainingSettings struct {
	DataDir         string  `mapstructure:"data_dir" yaml:"data_dir"` // empty selects a synthetic dataset
	Samples         int     `mapstructure:"samples" yaml:"samples"`
	ValidationSplit float64 `mapstructure:"validation_split" yaml:"validation_split"` // fraction kept for training
	Seed            uint64  `mapstructure:"seed" yaml:"seed"`
}

// Settings contains all configuration options for the application.
type Settings struct {
	Debug     bool                 `mapstructure:"debug" yaml:"debug"`
	Logging   logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Model     ModelSettings        `mapstructure:"model" yaml:"model"`
	Imagery   ImagerySettings      `mapstructure:"imagery" yaml:"imagery"`
	WebServer WebServerSettings    `mapstructure:"webserver" yaml:"webserver"`
	History   HistorySettings      `mapstructure:"history" yaml:"history"`
	Telemetry TelemetrySettings    `mapstructure:"telemetry" yaml:"telemetry"`
	Training  TrainingSettings     `mapstructure:"training" yaml:"training"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	once             sync.Once
)

// Load reads the configuration using the global viper instance. An empty
// configFile searches the default config paths and creates a default
// config.yaml when none exists.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings, err := load(viper.GetViper(), configFile)
	if err != nil {
		return nil, err
	}
	settingsInstance = settings
	return settings, nil
}

func load(v *viper.Viper, configFile string) (*Settings, error) {
	if err := initViper(v, configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, fmt.Errorf("error resolving secrets: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(v, configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded config.yaml to dir and reads it back.
func createDefaultConfig(v *viper.Viper, dir string) error {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	return v.ReadInConfig()
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, loading defaults if necessary
func Setting() *Settings {
	once.Do(func() {
		if GetSettings() == nil {
			if _, err := Load(""); err != nil {
				GetLogger().Error("error loading settings", logger.Error(err))
			}
		}
	})
	return GetSettings()
}

// SaveYAMLConfig writes settings to configPath atomically.
// Comments and ordering of an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := moveFile(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
