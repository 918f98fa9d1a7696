// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// maxClasses is the size of the fixed label enumeration.
const maxClasses = 3

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		func(s *Settings) error { return validateModelSettings(&s.Model) },
		func(s *Settings) error { return validateImagerySettings(&s.Imagery) },
		func(s *Settings) error { return validateWebServerSettings(&s.WebServer) },
		func(s *Settings) error { return validateHistorySettings(&s.History) },
		func(s *Settings) error { return validateTrainingSettings(&s.Training) },
		func(s *Settings) error { return validateTelemetrySettings(&s.Telemetry) },
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateModelSettings(settings *ModelSettings) error {
	var errs []string

	if !slices.Contains([]string{ModelKindCNN, ModelKindTFLite, ModelKindONNX}, settings.Kind) {
		errs = append(errs, fmt.Sprintf("unknown model kind %q", settings.Kind))
	}
	if settings.NumClasses < 2 || settings.NumClasses > maxClasses {
		errs = append(errs, fmt.Sprintf("num_classes must be between 2 and %d, got %d", maxClasses, settings.NumClasses))
	}
	if settings.Epochs < 1 {
		errs = append(errs, "epochs must be at least 1")
	}
	if settings.BatchSize < 1 {
		errs = append(errs, "batch_size must be at least 1")
	}
	if settings.LearningRate <= 0 || settings.LearningRate >= 1 {
		errs = append(errs, "learning_rate must be in (0, 1)")
	}
	if settings.Threads < 0 {
		errs = append(errs, "threads must not be negative")
	}
	if settings.Kind == ModelKindONNX && settings.ONNXLibrary == "" {
		errs = append(errs, "onnx_library is required for the onnx model kind")
	}

	if len(errs) > 0 {
		return fmt.Errorf("model settings errors: %v", errs)
	}
	return nil
}

func validateImagerySettings(settings *ImagerySettings) error {
	var errs []string

	switch settings.Provider {
	case ImageryProviderSynthetic:
	case ImageryProviderRemote:
		u, err := url.Parse(settings.Remote.BaseURL)
		if settings.Remote.BaseURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "remote provider requires an absolute base_url")
		}
		if settings.Remote.Timeout <= 0 {
			errs = append(errs, "remote timeout must be positive")
		}
		if settings.Remote.RateLimit <= 0 {
			errs = append(errs, "remote rate_limit must be positive")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown imagery provider %q", settings.Provider))
	}

	if settings.BufferSize <= 0 {
		errs = append(errs, "buffer_size must be positive")
	}
	if settings.Cache.Enabled && settings.Cache.TTL <= 0 {
		errs = append(errs, "cache ttl must be positive when the cache is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("imagery settings errors: %v", errs)
	}
	return nil
}

func validateWebServerSettings(settings *WebServerSettings) error {
	var errs []string

	if settings.Port < 1 || settings.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d", settings.Port))
	}
	if strings.TrimSpace(settings.BodyLimit) == "" {
		errs = append(errs, "body_limit must be set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("webserver settings errors: %v", errs)
	}
	return nil
}

func validateHistorySettings(settings *HistorySettings) error {
	if !settings.Enabled {
		return nil
	}

	var errs []string
	switch settings.Type {
	case HistorySQLite:
		if settings.SQLite.Path == "" {
			errs = append(errs, "sqlite path must be set")
		}
	case HistoryMySQL:
		if settings.MySQL.Host == "" || settings.MySQL.Database == "" {
			errs = append(errs, "mysql host and database must be set")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown history type %q", settings.Type))
	}

	if len(errs) > 0 {
		return fmt.Errorf("history settings errors: %v", errs)
	}
	return nil
}

func validateTrainingSettings(settings *TrainingSettings) error {
	var errs []string

	if settings.Samples < 1 {
		errs = append(errs, "samples must be at least 1")
	}
	if settings.ValidationSplit <= 0 || settings.ValidationSplit > 1 {
		errs = append(errs, "validation_split must be in (0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("training settings errors: %v", errs)
	}
	return nil
}

func validateTelemetrySettings(settings *TelemetrySettings) error {
	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		return fmt.Errorf("telemetry settings errors: [sentry is enabled but dsn is empty]")
	}
	return nil
}
