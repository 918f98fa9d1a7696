// Package secrets resolves credentials from environment variable references
// and mounted secret files (Docker or Kubernetes secrets). Secret values are
// never logged.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/logger"
)

const (
	// maxSecretFileSize bounds secret file reads; tokens and passwords are small.
	maxSecretFileSize = 64 * 1024

	// permissive reports group or other permission bits.
	permissive = 0o077
)

// envRef matches ${VAR} and ${VAR:-default}. A bare $VAR is left alone so
// passwords containing '$' survive unchanged.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

var (
	log     logger.Logger
	logOnce sync.Once
)

func getLogger() logger.Logger {
	logOnce.Do(func() {
		log = logger.Global().Module("secrets")
	})
	return log
}

// ExpandString replaces ${VAR} references with environment values. A
// reference without a default whose variable is unset or empty is an error.
func ExpandString(s string) (string, error) {
	var missing []string

	expanded := envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if value := os.Getenv(m[1]); value != "" {
			return value
		}
		if m[2] != "" {
			return m[3]
		}
		missing = append(missing, m[1])
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing required environment variable(s): %s", strings.Join(missing, ", ")).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret file, trimming trailing newlines. Files readable by
// group or other are accepted with a warning.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", errors.NewStd("secret file path is empty")
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		return "", errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("path", clean).
			Build()
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secret path is not a regular file: %s", clean)
	}
	if info.Size() > maxSecretFileSize {
		return "", fmt.Errorf("secret file too large (max %d bytes): %s", maxSecretFileSize, clean)
	}
	if perm := info.Mode().Perm(); perm&permissive != 0 {
		getLogger().Warn("secret file is readable by group or others",
			logger.String("path", clean),
			logger.String("mode", fmt.Sprintf("%04o", perm)))
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", clean, err)
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fmt.Errorf("secret file is empty: %s", clean)
	}
	return secret, nil
}

// Resolve returns the secret from filePath when set, otherwise value with
// environment references expanded.
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		return ReadFile(filePath)
	}
	if value == "" {
		return "", nil
	}
	return ExpandString(value)
}

// FieldError annotates a resolution failure with the settings key it came from.
func FieldError(field string, err error) error {
	return errors.New(fmt.Errorf("%s: %w", field, err)).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Context("setting", field).
		Build()
}
