package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "debug: true\n")

	settings, err := load(viper.New(), path)
	require.NoError(t, err)

	assert.True(t, settings.Debug)
	assert.Equal(t, ModelKindCNN, settings.Model.Kind)
	assert.Equal(t, 3, settings.Model.NumClasses)
	assert.Equal(t, 10, settings.Model.Epochs)
	assert.Equal(t, DefaultBufferSize, settings.Imagery.BufferSize)
	assert.Equal(t, ImageryProviderSynthetic, settings.Imagery.Provider)
	assert.Equal(t, 15*time.Minute, settings.Imagery.Cache.TTL)
	assert.Equal(t, 5000, settings.WebServer.Port)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)
}

func TestLoadReadsFileValues(t *testing.T) {
	path := writeConfig(t, `
model:
  kind: cnn
  num_classes: 2
  epochs: 3
imagery:
  provider: remote
  buffer_size: 512
  remote:
    base_url: https://tiles.example.com
    timeout: 3s
history:
  enabled: false
`)

	settings, err := load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 2, settings.Model.NumClasses)
	assert.Equal(t, 3, settings.Model.Epochs)
	assert.Equal(t, ImageryProviderRemote, settings.Imagery.Provider)
	assert.Equal(t, 512, settings.Imagery.BufferSize)
	assert.Equal(t, "https://tiles.example.com", settings.Imagery.Remote.BaseURL)
	assert.Equal(t, 3*time.Second, settings.Imagery.Remote.Timeout)
	assert.False(t, settings.History.Enabled)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("MAPBOX_ACCESS_TOKEN", "pk.test-token")
	t.Setenv("FORESTWATCH_WEBSERVER_PORT", "8088")
	path := writeConfig(t, "webserver:\n  port: 5000\n")

	settings, err := load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "pk.test-token", settings.WebServer.MapboxToken)
	assert.Equal(t, 8088, settings.WebServer.Port)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	path := writeConfig(t, `
model:
  num_classes: 7
imagery:
  provider: satellite
`)

	_, err := load(viper.New(), path)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	base := func() *Settings {
		v := viper.New()
		setDefaultConfig(v)
		s := &Settings{}
		require.NoError(t, v.Unmarshal(s))
		return s
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults are valid", func(*Settings) {}, false},
		{"single class", func(s *Settings) { s.Model.NumClasses = 1 }, true},
		{"unknown kind", func(s *Settings) { s.Model.Kind = "svm" }, true},
		{"onnx without library", func(s *Settings) { s.Model.Kind = ModelKindONNX }, true},
		{"zero buffer", func(s *Settings) { s.Imagery.BufferSize = 0 }, true},
		{"remote without url", func(s *Settings) { s.Imagery.Provider = ImageryProviderRemote }, true},
		{"bad port", func(s *Settings) { s.WebServer.Port = 70000 }, true},
		{"unknown history type", func(s *Settings) { s.History.Type = "postgres" }, true},
		{"history disabled ignores type", func(s *Settings) { s.History.Enabled = false; s.History.Type = "postgres" }, false},
		{"sentry without dsn", func(s *Settings) { s.Telemetry.Sentry.Enabled = true }, true},
		{"bad split", func(s *Settings) { s.Training.ValidationSplit = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := base()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	t.Parallel()

	v := viper.New()
	setDefaultConfig(v)
	settings := &Settings{}
	require.NoError(t, v.Unmarshal(settings))
	settings.Model.Epochs = 4

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveYAMLConfig(path, settings))

	reloaded, err := load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 4, reloaded.Model.Epochs)
	assert.Equal(t, settings.Imagery.Remote.Timeout, reloaded.Imagery.Remote.Timeout)
}

func TestEmbeddedConfigIsValid(t *testing.T) {
	t.Parallel()

	data, err := configFiles.ReadFile("config.yaml")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = load(viper.New(), path)
	require.NoError(t, err)
}

func TestLoadResolvesSecrets(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "api_key")
	require.NoError(t, os.WriteFile(keyFile, []byte("file-key\n"), 0o600))
	t.Setenv("FW_MAPBOX", "pk.from-env")

	path := writeConfig(t, `
imagery:
  remote:
    api_key: inline-ignored
    api_key_file: `+keyFile+`
webserver:
  mapbox_token: ${FW_MAPBOX}
`)

	settings, err := load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "file-key", settings.Imagery.Remote.APIKey)
	assert.Equal(t, "pk.from-env", settings.WebServer.MapboxToken)
}

func TestLoadRejectsMissingSecretReference(t *testing.T) {
	t.Setenv("FW_MISSING_TOKEN", "")
	path := writeConfig(t, "webserver:\n  mapbox_token: ${FW_MISSING_TOKEN}\n")

	_, err := load(viper.New(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webserver.mapbox_token")
}
