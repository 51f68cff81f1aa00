package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tonimelisma/notesync/internal/config"
	"github.com/tonimelisma/notesync/internal/objstore"
	"github.com/tonimelisma/notesync/internal/sync"
)

// app is the composition root: every service is constructed here with
// explicit dependencies and handed to the subcommands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *sync.SQLiteStore
	queue    *sync.OperationQueue
	backend  sync.Backend
	detector *sync.ConflictDetector
	resolver *sync.ConflictResolver
	service  *sync.SyncService
	manager  *sync.ConflictManager
	auto     *sync.AutoSyncService
}

// buildApp loads configuration and wires the full service graph. The
// remote connection is verified up front so commands fail before touching
// local state.
func buildApp(ctx context.Context) (*app, error) {
	cfgPath := flagConfigPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	logger := buildLogger(cfg.LogLevel())

	if cfg.Remote.Endpoint == "" {
		return nil, fmt.Errorf("remote.endpoint is not configured (config file: %s)", cfgPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Sync.CachePath), 0o700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	store, err := sync.NewStore(cfg.Sync.CachePath, logger)
	if err != nil {
		return nil, err
	}

	queue, err := sync.NewOperationQueue(store, queuePolicy(cfg), logger,
		sync.WithDefaultMaxRetries(cfg.Sync.MaxRetries))
	if err != nil {
		store.Close()
		return nil, err
	}

	backend, err := objstore.New(ctx, objstore.Options{
		Endpoint:  cfg.Remote.Endpoint,
		AccessKey: cfg.Remote.AccessKey,
		SecretKey: cfg.Remote.SecretKey,
		Bucket:    cfg.Remote.Bucket,
		Prefix:    cfg.Remote.Prefix,
		UseSSL:    cfg.Remote.UseSSL,
	}, logger)
	if err != nil {
		queue.Close()
		store.Close()
		return nil, err
	}

	detector := sync.NewConflictDetector(store, backend, logger)
	resolver := sync.NewConflictResolver(store, backend, logger)
	service := sync.NewSyncService(store, queue, detector, resolver, backend, cfg.Sync.Workers, logger)
	manager := sync.NewConflictManager(detector, resolver, cfg.Sync.AutoResolve, logger)

	auto := sync.NewAutoSyncService(service, store, sync.AutoSyncConfig{
		Interval:         cfg.SyncIntervalDuration(),
		DebounceDelay:    cfg.DebounceDelayDuration(),
		SyncOnFileChange: cfg.AutoSync.SyncOnFileChange,
		SyncOnAppStart:   cfg.AutoSync.SyncOnAppStart,
		SyncOnAppResume:  cfg.AutoSync.SyncOnAppResume,
		ExcludePatterns:  cfg.AutoSync.ExcludePatterns,
	}, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		queue:    queue,
		backend:  backend,
		detector: detector,
		resolver: resolver,
		service:  service,
		manager:  manager,
		auto:     auto,
	}, nil
}

// Close releases the queue and the cache database.
func (a *app) Close() {
	if err := a.queue.Close(); err != nil {
		a.logger.Warn("closing queue", "error", err)
	}

	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "error", err)
	}
}

// queuePolicy maps the configured priority names onto operation types.
// Validation already guaranteed the list is complete and well-formed.
func queuePolicy(cfg *config.Config) []sync.OperationType {
	policy := make([]sync.OperationType, 0, len(cfg.Sync.QueuePriority))
	for _, name := range cfg.Sync.QueuePriority {
		policy = append(policy, sync.OperationType(name))
	}

	return policy
}
