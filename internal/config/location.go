package config

import (
	"os"
	"path/filepath"
)

// ConfigEnvVar overrides the config file location.
const ConfigEnvVar = "CARDRUNNER_CONFIG"

// GetConfigPath returns $CARDRUNNER_CONFIG if set, else ~/.cardrunner/config.
func GetConfigPath() (string, error) {
	if p := os.Getenv(ConfigEnvVar); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cardrunner", "config"), nil
}
