//go:build darwin

package config

import (
	"os"
	"path/filepath"
)

func appSupportDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Application Support", "newsdesk")
	}
	return "newsdesk-data"
}

func defaultDataDir() string {
	return appSupportDir()
}

func configFilePath() string {
	return filepath.Join(appSupportDir(), "config.json")
}

func secretsFilePath() string {
	return filepath.Join(appSupportDir(), "secrets.json")
}
