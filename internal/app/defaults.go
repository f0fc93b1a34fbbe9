package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - CAMARC_CONFIG_PATH: config file location (default: ~/.config/camarc.toml)
//   - CAMARC_HOME: base directory for camarc data (default: ~/.local/share/camarc)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking CAMARC_CONFIG_PATH
// first, then falling back to ~/.config/camarc.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("CAMARC_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "camarc.toml"), nil
}

// getBaseDir returns the data directory, checking CAMARC_HOME first, then
// falling back to the XDG default ~/.local/share/camarc.
func getBaseDir() (string, error) {
	if path := os.Getenv("CAMARC_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "camarc"), nil
}
