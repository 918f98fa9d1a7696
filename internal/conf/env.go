// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes automatically bound environment variables, e.g.
// FORESTWATCH_WEBSERVER_PORT overrides webserver.port.
const EnvPrefix = "FORESTWATCH"

// envBinding holds metadata for explicit environment variable bindings
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the variables that don't follow the prefix convention
func getEnvBindings() []envBinding {
	return []envBinding{
		{"webserver.mapbox_token", "MAPBOX_ACCESS_TOKEN", nil},
		{"telemetry.sentry.dsn", "SENTRY_DSN", validateEnvURL},
		{"model.onnx_library", "ONNXRUNTIME_LIB", nil},
		{"webserver.port", "PORT", validateEnvPort},
	}
}

// configureEnvironmentVariables enables FORESTWATCH_* overrides and the explicit bindings.
func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return bindEnvVars(v)
}

// bindEnvVars sets up environment variable bindings with validation
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, EnvPrefix+"_"+envKey(binding.ConfigKey), binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value: %v", binding.EnvVar, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func envKey(configKey string) string {
	return strings.ToUpper(strings.ReplaceAll(configKey, ".", "_"))
}

// validateEnvURL validates URL-valued variables
func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

// validateEnvPort validates TCP port variables
func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("must be between 1 and 65535")
	}
	return nil
}
