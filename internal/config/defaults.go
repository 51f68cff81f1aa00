package config

// Default values for configuration options: safe starting points that
// work without any config file, excluding remote credentials which have
// no sensible default.
const (
	defaultBucket           = "notes"
	defaultWorkers          = 4
	defaultMaxRetries       = 3
	defaultSyncInterval     = "5m"
	defaultDebounceDelay    = "2s"
	defaultLogLevel         = "info"
	defaultSyncOnFileChange = true
	defaultSyncOnAppStart   = true
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding so unset fields keep their
// defaults.
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			Bucket: defaultBucket,
		},
		Sync: SyncConfig{
			NotesDir:      DefaultNotesDir(),
			CachePath:     DefaultCachePath(),
			Workers:       defaultWorkers,
			MaxRetries:    defaultMaxRetries,
			QueuePriority: []string{"delete", "upload", "download"},
		},
		AutoSync: AutoSyncConfig{
			SyncInterval:     defaultSyncInterval,
			DebounceDelay:    defaultDebounceDelay,
			SyncOnFileChange: defaultSyncOnFileChange,
			SyncOnAppStart:   defaultSyncOnAppStart,
			ExcludePatterns:  []string{"*.tmp", "*.swp", ".DS_Store"},
		},
		Logging: LoggingConfig{
			Level: defaultLogLevel,
		},
	}
}
