package config

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// UserConfig holds the settings that are editable from the management UI and
// persisted to a JSON file rather than the environment.
type UserConfig struct {
	// SyncIntervalMinutes is how often the scheduler wakes up to consider
	// periodic tasks. 0 disables scheduling entirely.
	SyncIntervalMinutes int `json:"sync_interval_minutes"`

	// ScanStartHour is the hour of day (0-23) in which the daily library scan
	// is allowed to trigger.
	ScanStartHour int `json:"scan_start_hour"`

	// ScanWindowMinutes is how many minutes into the start hour a trigger is
	// still allowed.
	ScanWindowMinutes int `json:"scan_window_minutes"`

	// ForceRematch bypasses the staleness windows and re-fetches every
	// matched author on the next scan.
	ForceRematch bool `json:"force_rematch"`
}

func userConfigFilePath() string {
	configDir := os.Getenv("CONFIG_DIRECTORY")
	if configDir == "" {
		configDir = "/config"
	}

	return filepath.Join(configDir, "config.json")
}

func loadUserConfig(configFilePath string) (*UserConfig, error) {
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// File doesn't exist, return defaults
			return loadDefaultUserConfig(), nil
		}
		return nil, errors.WithStack(err)
	}

	userConfig := loadDefaultUserConfig()
	if err := json.Unmarshal(data, userConfig); err != nil {
		return nil, errors.WithStack(err)
	}

	return userConfig, nil
}

func loadDefaultUserConfig() *UserConfig {
	return &UserConfig{
		SyncIntervalMinutes: 60, // 1 hour
		ScanStartHour:       2,
		ScanWindowMinutes:   10,
	}
}

func saveUserConfigFile(userConfig *UserConfig, userConfigFilePath string) error {
	// Ensure config directory exists.
	if err := os.MkdirAll(filepath.Dir(userConfigFilePath), 0755); err != nil {
		return errors.WithStack(err)
	}

	// Write updated settings to file.
	data, err := json.MarshalIndent(userConfig, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}

	err = os.WriteFile(userConfigFilePath, data, 0644) //nolint:gosec
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}
