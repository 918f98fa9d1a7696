// conf/utils.go various util functions for configuration package
package conf

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/logger"
)

const appDirName = "forestwatch"

// GetDefaultConfigPaths returns the config search paths for the current OS.
// If one of them already holds config.yaml only that path is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	var configPaths []string
	switch runtime.GOOS {
	case "windows":
		configPaths = []string{".", filepath.Join(homeDir, "AppData", "Roaming", appDirName)}
	default:
		configPaths = []string{".", filepath.Join(homeDir, ".config", appDirName), "/etc/" + appDirName}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}

// moveFile renames src to dst, falling back to copy and delete across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	srcFile, err := os.Open(src) //nolint:gosec // G304: temp file created by this package
	if err != nil {
		return fmt.Errorf("error opening source file: %w", err)
	}
	defer func() {
		if err := srcFile.Close(); err != nil {
			GetLogger().Warn("failed to close source file", logger.Error(err))
		}
	}()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // G304: caller supplied config path
	if err != nil {
		return fmt.Errorf("error creating destination file: %w", err)
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return fmt.Errorf("error copying file contents: %w", err)
	}
	if err := dstFile.Close(); err != nil {
		return fmt.Errorf("error closing destination file: %w", err)
	}

	if err := os.Remove(src); err != nil {
		return fmt.Errorf("error removing source file after copy: %w", err)
	}
	return nil
}
