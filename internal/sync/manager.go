package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	stdsync "sync"
)

// defaultHistoryLimit bounds the in-memory resolution history ring.
const defaultHistoryLimit = 100

// ConflictRecord is one entry of the resolution history.
type ConflictRecord struct {
	Path       string
	Type       ConflictType
	Severity   Severity
	Resolution Resolution
	DetectedAt int64 // Unix nanoseconds
	ResolvedAt int64 // Unix nanoseconds
}

// ConflictManager is the stateful, presentation-facing façade over
// detection and resolution. It tracks unresolved conflicts by path,
// keeps a bounded resolution history, and optionally auto-resolves
// low-severity conflicts as soon as they are detected.
type ConflictManager struct {
	detector *ConflictDetector
	resolver *ConflictResolver
	logger   *slog.Logger

	autoResolve  bool
	historyLimit int

	mu         stdsync.Mutex
	pending    map[string]DetectionResult
	detectedAt map[string]int64
	history    []ConflictRecord

	events *Hub[ConflictEvent]
}

// NewConflictManager wires the façade. autoResolve enables immediate
// resolution of low-severity detections.
func NewConflictManager(detector *ConflictDetector, resolver *ConflictResolver, autoResolve bool, logger *slog.Logger) *ConflictManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConflictManager{
		detector:     detector,
		resolver:     resolver,
		logger:       logger,
		autoResolve:  autoResolve,
		historyLimit: defaultHistoryLimit,
		pending:      make(map[string]DetectionResult),
		detectedAt:   make(map[string]int64),
		events:       NewHub[ConflictEvent](logger),
	}
}

// Events returns the conflict lifecycle event stream.
func (m *ConflictManager) Events() *Hub[ConflictEvent] {
	return m.events
}

// CheckForConflicts scans all paths, registering every detection as
// pending. With auto-resolve on, low-severity detections carrying a safe
// default are resolved immediately instead. Returns the detections that
// remain pending.
func (m *ConflictManager) CheckForConflicts(ctx context.Context) ([]DetectionResult, error) {
	results, err := m.detector.DetectAllConflicts(ctx)
	if err != nil {
		return nil, err
	}

	var remaining []DetectionResult

	for _, res := range results {
		if m.autoResolve && res.AutoResolution != nil {
			if m.autoResolveOne(ctx, res) {
				continue
			}
		}

		m.Report(res)
		remaining = append(remaining, res)
	}

	return remaining, nil
}

// Report registers a detection as pending and publishes it. A repeat
// detection for the same path replaces the previous entry.
func (m *ConflictManager) Report(res DetectionResult) {
	m.mu.Lock()
	m.pending[res.Path] = res
	m.detectedAt[res.Path] = NowNano()
	m.mu.Unlock()

	m.logger.Info("conflict pending",
		"path", res.Path, "type", res.Type, "severity", res.Severity)
	m.events.Publish(ConflictEvent{Kind: ConflictDetected, Path: res.Path, Result: &res})
}

// Resolve applies resolution to the pending conflict for path. Errors
// with ErrNoPendingConflict when path has no pending entry; a failed
// resolution leaves the entry pending for another attempt.
func (m *ConflictManager) Resolve(ctx context.Context, path string, resolution Resolution) (ResolutionResult, error) {
	m.mu.Lock()
	res, ok := m.pending[path]
	m.mu.Unlock()

	if !ok {
		return ResolutionResult{}, syncErr("no_pending_conflict",
			fmt.Sprintf("no pending conflict for %q", path), ErrNoPendingConflict)
	}

	outcome := m.resolver.ResolveConflict(ctx, res.Conflict, resolution)
	if !outcome.Success {
		return outcome, outcome.Err
	}

	m.finishResolution(res, resolution)

	return outcome, nil
}

// PendingConflicts lists unresolved conflicts ordered by path.
func (m *ConflictManager) PendingConflicts() []DetectionResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]DetectionResult, 0, len(m.pending))
	for _, res := range m.pending {
		out = append(out, res)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out
}

// PendingConflict returns the pending entry for path, nil when none.
func (m *ConflictManager) PendingConflict(path string) *DetectionResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.pending[path]
	if !ok {
		return nil
	}

	return &res
}

// History returns the resolution history, newest first.
func (m *ConflictManager) History() []ConflictRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ConflictRecord, len(m.history))
	copy(out, m.history)

	return out
}

// Dismiss drops a pending conflict without resolving it.
func (m *ConflictManager) Dismiss(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[path]; !ok {
		return syncErr("no_pending_conflict",
			fmt.Sprintf("no pending conflict for %q", path), ErrNoPendingConflict)
	}

	delete(m.pending, path)
	delete(m.detectedAt, path)

	m.logger.Info("conflict dismissed", "path", path)

	return nil
}

// autoResolveOne attempts the safe default; returns true when resolved.
func (m *ConflictManager) autoResolveOne(ctx context.Context, res DetectionResult) bool {
	outcome := m.resolver.ResolveConflict(ctx, res.Conflict, *res.AutoResolution)
	if !outcome.Success {
		m.logger.Warn("auto-resolution failed, conflict stays pending",
			"path", res.Path, "resolution", *res.AutoResolution, "error", outcome.Err)
		return false
	}

	m.mu.Lock()
	m.detectedAt[res.Path] = NowNano()
	m.mu.Unlock()

	m.logger.Info("conflict auto-resolved", "path", res.Path, "resolution", *res.AutoResolution)
	m.finishResolution(res, *res.AutoResolution)

	return true
}

// finishResolution moves a conflict from pending into history and
// publishes the resolved event.
func (m *ConflictManager) finishResolution(res DetectionResult, resolution Resolution) {
	m.mu.Lock()

	record := ConflictRecord{
		Path:       res.Path,
		Type:       res.Type,
		Severity:   res.Severity,
		Resolution: resolution,
		DetectedAt: m.detectedAt[res.Path],
		ResolvedAt: NowNano(),
	}

	delete(m.pending, res.Path)
	delete(m.detectedAt, res.Path)

	m.history = append([]ConflictRecord{record}, m.history...)
	if len(m.history) > m.historyLimit {
		m.history = m.history[:m.historyLimit]
	}

	m.mu.Unlock()

	m.events.Publish(ConflictEvent{Kind: ConflictResolved, Path: res.Path, Resolution: resolution})
}
