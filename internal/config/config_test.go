package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	assert.Equal(t, "notes", cfg.Remote.Bucket)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, []string{"delete", "upload", "download"}, cfg.Sync.QueuePriority)
	assert.Equal(t, "5m", cfg.AutoSync.SyncInterval)
	assert.Equal(t, "2s", cfg.AutoSync.DebounceDelay)
	assert.True(t, cfg.AutoSync.SyncOnFileChange)
	assert.True(t, cfg.AutoSync.SyncOnAppStart)
	assert.False(t, cfg.AutoSync.SyncOnAppResume)
	assert.Equal(t, "info", cfg.Logging.Level)

	// The defaults themselves must validate.
	assert.NoError(t, Validate(cfg))
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[remote]
endpoint = "minio.example.com:9000"
access_key = "ak"
secret_key = "sk"
bucket = "my-notes"
use_ssl = true

[sync]
workers = 8
queue_priority = ["upload", "delete", "download"]

[autosync]
sync_interval = "1m"

[logging]
level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "minio.example.com:9000", cfg.Remote.Endpoint)
	assert.Equal(t, "my-notes", cfg.Remote.Bucket)
	assert.True(t, cfg.Remote.UseSSL)
	assert.Equal(t, 8, cfg.Sync.Workers)
	assert.Equal(t, []string{"upload", "delete", "download"}, cfg.Sync.QueuePriority)

	// Unset fields keep their defaults.
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, "2s", cfg.AutoSync.DebounceDelay)

	assert.Equal(t, time.Minute, cfg.SyncIntervalDuration())
	assert.Equal(t, 2*time.Second, cfg.DebounceDelayDuration())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
}

func TestLoad_UnknownKeyFails(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[sync]
wokers = 8
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config keys")
	assert.Contains(t, err.Error(), "sync.wokers")
}

func TestLoad_MalformedTOMLFails(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `[sync`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	t.Parallel()

	// Missing file: zero-config first run.
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	// Existing file still goes through full parsing and validation.
	path := writeConfig(t, `
[sync]
workers = 0
`)

	_, err = LoadOrDefault(path)
	assert.Error(t, err)
}

func TestValidate_AccumulatesErrors(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Sync.Workers = 99
	cfg.Sync.MaxRetries = -1
	cfg.AutoSync.SyncInterval = "sometimes"
	cfg.Logging.Level = "loud"

	err := Validate(cfg)
	require.Error(t, err)

	// All four problems surface at once.
	msg := err.Error()
	assert.Contains(t, msg, "sync.workers")
	assert.Contains(t, msg, "sync.max_retries")
	assert.Contains(t, msg, "autosync.sync_interval")
	assert.Contains(t, msg, "logging.level")
}

func TestValidate_QueuePriority(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		priority []string
		wantErr  string
	}{
		{"incomplete", []string{"upload"}, "sync.queue_priority must list"},
		{"unknown type", []string{"upload", "download", "purge"}, `unknown type "purge"`},
		{"duplicate", []string{"upload", "upload", "download"}, `lists "upload" twice`},
		{"reordered is fine", []string{"download", "upload", "delete"}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			cfg.Sync.QueuePriority = tc.priority

			err := Validate(cfg)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidate_Durations(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.AutoSync.SyncInterval = "5s"
	assert.ErrorContains(t, Validate(cfg), "at least 10s")

	// Zero disables the ticker and is allowed.
	cfg.AutoSync.SyncInterval = "0s"
	assert.NoError(t, Validate(cfg))

	cfg = DefaultConfig()
	cfg.AutoSync.DebounceDelay = "10ms"
	assert.ErrorContains(t, Validate(cfg), "at least 100ms")
}

func TestDurationGetters_FallBack(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.AutoSync.SyncInterval = "garbage"
	cfg.AutoSync.DebounceDelay = "garbage"
	cfg.Logging.Level = "garbage"

	assert.Equal(t, time.Duration(0), cfg.SyncIntervalDuration())
	assert.Equal(t, time.Duration(0), cfg.DebounceDelayDuration())
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())
}

func TestDefaultPaths(t *testing.T) {
	t.Parallel()

	assert.Contains(t, DefaultConfigPath(), "notesync")
	assert.Contains(t, DefaultCachePath(), "notesync")
	assert.NotEmpty(t, DefaultNotesDir())
}
