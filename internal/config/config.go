// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for notesync. The override chain is
// defaults -> config file -> CLI flags; unknown keys in the file are fatal
// so a typo never silently falls back to a default.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Remote   RemoteConfig   `toml:"remote"`
	Sync     SyncConfig     `toml:"sync"`
	AutoSync AutoSyncConfig `toml:"autosync"`
	Logging  LoggingConfig  `toml:"logging"`
}

// RemoteConfig identifies the object-storage endpoint holding the notes.
type RemoteConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	UseSSL    bool   `toml:"use_ssl"`
}

// SyncConfig controls the sync engine itself: cache placement, worker
// bounds, and queue priorities.
type SyncConfig struct {
	NotesDir      string   `toml:"notes_dir"`
	CachePath     string   `toml:"cache_path"`
	Workers       int      `toml:"workers"`
	MaxRetries    int      `toml:"max_retries"`
	QueuePriority []string `toml:"queue_priority"`
	AutoResolve   bool     `toml:"auto_resolve"`
}

// AutoSyncConfig controls the scheduling policy layer.
type AutoSyncConfig struct {
	SyncInterval     string   `toml:"sync_interval"`
	DebounceDelay    string   `toml:"debounce_delay"`
	SyncOnFileChange bool     `toml:"sync_on_file_change"`
	SyncOnAppStart   bool     `toml:"sync_on_app_start"`
	SyncOnAppResume  bool     `toml:"sync_on_app_resume"`
	ExcludePatterns  []string `toml:"exclude_patterns"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `toml:"level"`
}
