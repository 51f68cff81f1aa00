package config

import (
	"os"
	"path/filepath"
)

const appDirName = "notesync"

// DefaultConfigPath returns the platform config file location,
// typically ~/.config/notesync/config.toml on Linux.
func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", appDirName, "config.toml")
	}

	return filepath.Join(base, appDirName, "config.toml")
}

// DefaultCachePath returns the platform cache database location,
// typically ~/.cache/notesync/cache.db on Linux.
func DefaultCachePath() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".", appDirName, "cache.db")
	}

	return filepath.Join(base, appDirName, "cache.db")
}

// DefaultNotesDir returns the default local notes directory.
func DefaultNotesDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "notes"
	}

	return filepath.Join(home, "notes")
}
