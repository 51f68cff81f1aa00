package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Validation range constants.
const (
	minWorkers       = 1
	maxWorkers       = 32
	minSyncInterval  = 10 * time.Second
	minDebounceDelay = 100 * time.Millisecond
)

// Validate checks all configuration values and returns all errors found,
// accumulated rather than stopping at the first, so users can fix every
// issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateAutoSync(&cfg.AutoSync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateSync(sc *SyncConfig) []error {
	var errs []error

	if sc.Workers < minWorkers || sc.Workers > maxWorkers {
		errs = append(errs, fmt.Errorf("sync.workers must be between %d and %d, got %d",
			minWorkers, maxWorkers, sc.Workers))
	}

	if sc.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("sync.max_retries must not be negative, got %d", sc.MaxRetries))
	}

	if len(sc.QueuePriority) != 3 {
		errs = append(errs, fmt.Errorf("sync.queue_priority must list upload, download, and delete, got %v",
			sc.QueuePriority))

		return errs
	}

	seen := map[string]bool{}

	for _, p := range sc.QueuePriority {
		switch p {
		case "upload", "download", "delete":
		default:
			errs = append(errs, fmt.Errorf("sync.queue_priority contains unknown type %q", p))
			continue
		}

		if seen[p] {
			errs = append(errs, fmt.Errorf("sync.queue_priority lists %q twice", p))
		}

		seen[p] = true
	}

	return errs
}

func validateAutoSync(ac *AutoSyncConfig) []error {
	var errs []error

	if interval, err := time.ParseDuration(ac.SyncInterval); err != nil {
		errs = append(errs, fmt.Errorf("autosync.sync_interval %q is not a duration: %w", ac.SyncInterval, err))
	} else if interval > 0 && interval < minSyncInterval {
		errs = append(errs, fmt.Errorf("autosync.sync_interval must be at least %s, got %s",
			minSyncInterval, interval))
	}

	if delay, err := time.ParseDuration(ac.DebounceDelay); err != nil {
		errs = append(errs, fmt.Errorf("autosync.debounce_delay %q is not a duration: %w", ac.DebounceDelay, err))
	} else if delay < minDebounceDelay {
		errs = append(errs, fmt.Errorf("autosync.debounce_delay must be at least %s, got %s",
			minDebounceDelay, delay))
	}

	return errs
}

func validateLogging(lc *LoggingConfig) []error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		return []error{fmt.Errorf("logging.level %q is not a log level: %w", lc.Level, err)}
	}

	return nil
}

// SyncIntervalDuration returns the parsed periodic sync interval. Call
// after Validate; an unparseable value falls back to zero (disabled).
func (c *Config) SyncIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.AutoSync.SyncInterval)
	if err != nil {
		return 0
	}

	return d
}

// DebounceDelayDuration returns the parsed debounce quiet period.
func (c *Config) DebounceDelayDuration() time.Duration {
	d, err := time.ParseDuration(c.AutoSync.DebounceDelay)
	if err != nil {
		return 0
	}

	return d
}

// LogLevel returns the parsed slog level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo
	}

	return level
}
