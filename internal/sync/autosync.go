package sync

import (
	"context"
	"log/slog"
	"strconv"
	stdsync "sync"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
)

// AutoSyncState is the scheduling policy's lifecycle state.
type AutoSyncState string

// Auto-sync states.
const (
	AutoSyncDisabled AutoSyncState = "disabled"
	AutoSyncEnabled  AutoSyncState = "enabled"
	AutoSyncPaused   AutoSyncState = "paused"
	AutoSyncError    AutoSyncState = "error"
)

// Trigger reasons funneled through TriggerSync.
const (
	TriggerPeriodic   = "periodic"
	TriggerFileChange = "file_change"
	TriggerAppStart   = "app_start"
	TriggerAppResume  = "app_resume"
	TriggerManual     = "manual"
)

// Settings keys for persisted trigger statistics.
const (
	triggerStatPrefix    = "autosync.trigger."
	triggerStatSuccesses = "autosync.successes"
	triggerStatFailures  = "autosync.failures"
	triggerStatLastError = "autosync.last_error"
)

// AutoSyncConfig is the scheduling policy knobs, typically sourced from
// the configuration file.
type AutoSyncConfig struct {
	Interval         time.Duration // periodic full-sync cadence; <= 0 disables the ticker
	DebounceDelay    time.Duration // quiet period before a file change syncs
	SyncOnFileChange bool
	SyncOnAppStart   bool
	SyncOnAppResume  bool
	ExcludePatterns  []string // gitignore-style patterns
}

// AutoSyncService layers scheduling policy over the sync service:
// a periodic ticker, debounced per-path file-change triggers, and
// lifecycle hooks, all funneled through one TriggerSync entry point.
type AutoSyncService struct {
	service *SyncService
	store   Store
	cfg     AutoSyncConfig
	exclude *ignore.GitIgnore
	logger  *slog.Logger

	suppress *suppressor
	states   *Hub[AutoSyncState]

	mu       stdsync.Mutex
	state    AutoSyncState
	stopTick context.CancelFunc
	timers   map[string]*time.Timer
}

// NewAutoSyncService wires the policy layer in the disabled state.
func NewAutoSyncService(service *SyncService, store Store, cfg AutoSyncConfig, logger *slog.Logger) *AutoSyncService {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 2 * time.Second
	}

	return &AutoSyncService{
		service:  service,
		store:    store,
		cfg:      cfg,
		exclude:  ignore.CompileIgnoreLines(cfg.ExcludePatterns...),
		logger:   logger,
		suppress: newSuppressor(logger),
		states:   NewHub[AutoSyncState](logger),
		state:    AutoSyncDisabled,
		timers:   make(map[string]*time.Timer),
	}
}

// States returns the broadcast stream of state transitions.
func (a *AutoSyncService) States() *Hub[AutoSyncState] {
	return a.states
}

// State returns the current lifecycle state.
func (a *AutoSyncService) State() AutoSyncState {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.state
}

// Enable starts the policy layer: the periodic ticker is armed and
// file-change listeners become live. Enabling an already-enabled service
// is a no-op.
func (a *AutoSyncService) Enable(ctx context.Context) {
	a.mu.Lock()

	if a.state == AutoSyncEnabled {
		a.mu.Unlock()
		return
	}

	a.setStateLocked(AutoSyncEnabled)
	a.armTickerLocked(ctx)
	a.mu.Unlock()

	a.logger.Info("auto-sync enabled", "interval", a.cfg.Interval)
}

// Disable stops the ticker, cancels all debounce timers, and drops back
// to the disabled state.
func (a *AutoSyncService) Disable() {
	a.mu.Lock()
	a.stopTickerLocked()
	a.cancelTimersLocked()
	a.setStateLocked(AutoSyncDisabled)
	a.mu.Unlock()

	a.logger.Info("auto-sync disabled")
}

// Pause suspends triggers without forgetting that the service was
// enabled. The ticker stops immediately; pending debounce timers are
// cancelled so nothing fires while paused.
func (a *AutoSyncService) Pause() {
	a.mu.Lock()

	if a.state != AutoSyncEnabled && a.state != AutoSyncError {
		a.mu.Unlock()
		return
	}

	a.stopTickerLocked()
	a.cancelTimersLocked()
	a.setStateLocked(AutoSyncPaused)
	a.mu.Unlock()

	a.logger.Info("auto-sync paused")
}

// Resume re-arms the ticker from the paused state. The first periodic
// fire happens one full interval after resume, never immediately.
func (a *AutoSyncService) Resume(ctx context.Context) {
	a.mu.Lock()

	if a.state != AutoSyncPaused {
		a.mu.Unlock()
		return
	}

	a.setStateLocked(AutoSyncEnabled)
	a.armTickerLocked(ctx)
	a.mu.Unlock()

	a.logger.Info("auto-sync resumed")
}

// OnAppStart runs the configured startup sync.
func (a *AutoSyncService) OnAppStart(ctx context.Context) {
	if !a.cfg.SyncOnAppStart {
		return
	}

	a.TriggerSync(ctx, TriggerAppStart, "")
}

// OnAppResume runs the configured resume-from-background sync.
func (a *AutoSyncService) OnAppResume(ctx context.Context) {
	if !a.cfg.SyncOnAppResume {
		return
	}

	a.TriggerSync(ctx, TriggerAppResume, "")
}

// OnFileCreated is the file-watcher listener for new files.
func (a *AutoSyncService) OnFileCreated(ctx context.Context, path string) {
	a.onFileEvent(ctx, path)
}

// OnFileModified is the file-watcher listener for edits.
func (a *AutoSyncService) OnFileModified(ctx context.Context, path string) {
	a.onFileEvent(ctx, path)
}

// OnFileDeleted is the file-watcher listener for removals.
func (a *AutoSyncService) OnFileDeleted(ctx context.Context, path string) {
	a.onFileEvent(ctx, path)
}

// onFileEvent debounces a file change: each new event for the same path
// resets that path's timer, so the sync fires once per quiet period.
// Excluded paths never arm a timer.
func (a *AutoSyncService) onFileEvent(ctx context.Context, path string) {
	if !a.cfg.SyncOnFileChange {
		return
	}

	if a.exclude.MatchesPath(path) {
		a.logger.Debug("change ignored by exclude patterns", "path", path)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != AutoSyncEnabled && a.state != AutoSyncError {
		return
	}

	if timer, ok := a.timers[path]; ok {
		timer.Reset(a.cfg.DebounceDelay)
		return
	}

	a.timers[path] = time.AfterFunc(a.cfg.DebounceDelay, func() {
		a.mu.Lock()
		delete(a.timers, path)
		live := a.state == AutoSyncEnabled || a.state == AutoSyncError
		a.mu.Unlock()

		if live {
			a.TriggerSync(ctx, TriggerFileChange, path)
		}
	})
}

// TriggerSync is the single entry point for all triggers. It is a no-op
// while the service is disabled. path selects a single-file sync; empty
// path runs a full sync. Outcomes feed the persisted trigger statistics
// and the state machine (a failed sync parks the service in the error
// state until the next success).
func (a *AutoSyncService) TriggerSync(ctx context.Context, reason, path string) {
	a.mu.Lock()

	if a.state == AutoSyncDisabled {
		a.mu.Unlock()
		a.logger.Debug("trigger ignored while disabled", "reason", reason)
		return
	}

	a.mu.Unlock()

	if path != "" && a.suppress.shouldSkip(path) {
		return
	}

	a.logger.Info("sync triggered", "reason", reason, "path", path)

	var err error

	if path == "" {
		_, err = a.service.FullSync(ctx)
	} else {
		_, err = a.service.SyncFile(ctx, path)
	}

	a.recordTrigger(ctx, reason, err)

	if path != "" {
		if err != nil {
			a.suppress.recordFailure(path, err)
		} else {
			a.suppress.recordSuccess(path)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case err != nil && a.state == AutoSyncEnabled:
		a.setStateLocked(AutoSyncError)
	case err == nil && a.state == AutoSyncError:
		a.setStateLocked(AutoSyncEnabled)
	}
}

// TriggerCounts reads the persisted per-reason trigger counters.
func (a *AutoSyncService) TriggerCounts(ctx context.Context) (map[string]int64, error) {
	values, err := a.store.SettingsWithPrefix(ctx, triggerStatPrefix)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(values))
	for key, value := range values {
		counts[key[len(triggerStatPrefix):]] = parseCounter(value)
	}

	return counts, nil
}

// recordTrigger persists per-reason and success/failure counters. A
// statistics write failure is logged, never surfaced.
func (a *AutoSyncService) recordTrigger(ctx context.Context, reason string, outcome error) {
	bump := func(key string) {
		current, err := a.store.GetSetting(ctx, key)
		if err != nil {
			a.logger.Warn("could not read trigger counter", "key", key, "error", err)
			return
		}

		next := strconv.FormatInt(parseCounter(current)+1, 10)
		if err := a.store.SetSetting(ctx, key, next); err != nil {
			a.logger.Warn("could not persist trigger counter", "key", key, "error", err)
		}
	}

	bump(triggerStatPrefix + reason)

	if outcome == nil {
		bump(triggerStatSuccesses)
		return
	}

	bump(triggerStatFailures)

	if err := a.store.SetSetting(ctx, triggerStatLastError, outcome.Error()); err != nil {
		a.logger.Warn("could not persist trigger error", "error", err)
	}
}

// armTickerLocked starts the periodic loop. Caller holds a.mu.
func (a *AutoSyncService) armTickerLocked(ctx context.Context) {
	if a.cfg.Interval <= 0 || a.stopTick != nil {
		return
	}

	tickCtx, cancel := context.WithCancel(ctx)
	a.stopTick = cancel

	go a.tickLoop(tickCtx)
}

// stopTickerLocked cancels the periodic loop. Caller holds a.mu.
func (a *AutoSyncService) stopTickerLocked() {
	if a.stopTick != nil {
		a.stopTick()
		a.stopTick = nil
	}
}

// cancelTimersLocked stops every pending debounce timer. Caller holds a.mu.
func (a *AutoSyncService) cancelTimersLocked() {
	for path, timer := range a.timers {
		timer.Stop()
		delete(a.timers, path)
	}
}

func (a *AutoSyncService) setStateLocked(next AutoSyncState) {
	if a.state == next {
		return
	}

	a.logger.Debug("auto-sync state change", "from", a.state, "to", next)
	a.state = next
	a.states.Publish(next)
}

func (a *AutoSyncService) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.TriggerSync(ctx, TriggerPeriodic, "")
		}
	}
}
