package conf

import (
	"github.com/tphakala/forestwatch/internal/secrets"
)

// resolveSecrets replaces credential fields with their resolved values. A
// *_file setting wins over the inline value, and inline values may reference
// environment variables as ${VAR} or ${VAR:-default}.
func resolveSecrets(settings *Settings) error {
	fields := []struct {
		name  string
		file  string
		value *string
	}{
		{"imagery.remote.api_key", settings.Imagery.Remote.APIKeyFile, &settings.Imagery.Remote.APIKey},
		{"webserver.mapbox_token", settings.WebServer.MapboxTokenFile, &settings.WebServer.MapboxToken},
		{"history.mysql.password", settings.History.MySQL.PasswordFile, &settings.History.MySQL.Password},
		{"telemetry.sentry.dsn", "", &settings.Telemetry.Sentry.DSN},
	}

	for _, f := range fields {
		resolved, err := secrets.Resolve(f.file, *f.value)
		if err != nil {
			return secrets.FieldError(f.name, err)
		}
		*f.value = resolved
	}
	return nil
}
