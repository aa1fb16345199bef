// conf/utils.go various util functions for the configuration package
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// GetDefaultConfigPaths returns a list of default configuration paths for the
// current operating system, following standard conventions for application
// configuration files.
func GetDefaultConfigPaths() ([]string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("error fetching executable path: %w", err)
	}
	exeDir := filepath.Dir(exePath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}

	var configPaths []string
	switch runtime.GOOS {
	case "windows":
		configPaths = []string{
			exeDir,
			filepath.Join(homeDir, "AppData", "Roaming", "sodav-monitor"),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "sodav-monitor"),
			"/etc/sodav-monitor",
			exeDir,
		}
	}

	return configPaths, nil
}

// GetBasePath expands a relative path against the config directory and makes
// sure the directory exists.
func GetBasePath(path string) string {
	if filepath.IsAbs(path) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			fmt.Printf("failed to create directory '%s': %v\n", path, err)
		}
		return path
	}

	configPaths, err := GetDefaultConfigPaths()
	if err != nil || len(configPaths) == 0 {
		return path
	}

	basePath := filepath.Join(configPaths[0], path)
	if err := os.MkdirAll(filepath.Dir(basePath), 0o755); err != nil {
		fmt.Printf("failed to create directory '%s': %v\n", filepath.Dir(basePath), err)
	}
	return basePath
}
