package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Settings keys for the pause gate and local delete tombstones.
const (
	settingPaused      = "sync.paused"
	settingPausedUntil = "sync.paused_until"
	tombstonePrefix    = "tombstone."
)

// DefaultWorkers bounds concurrent transfers during a queue drain.
const DefaultWorkers = 4

// drainPollInterval is how often an idle drain loop re-checks the queue
// while workers are still in flight.
const drainPollInterval = 10 * time.Millisecond

// SyncService orchestrates full and single-file synchronization: it
// diffs the cache against the remote listing, enqueues the resulting
// operations, and drains the queue with a bounded worker pool. Detected
// conflicts are routed to the resolver (low severity) or surfaced in the
// batch result, never silently overwritten.
type SyncService struct {
	store    Store
	queue    *OperationQueue
	detector *ConflictDetector
	resolver *ConflictResolver
	backend  Backend
	logger   *slog.Logger
	workers  int

	status  *Hub[StatusEvent]
	syncing atomic.Bool

	// pathMu guards pathLocks; each entry serializes operations on one
	// file path across the worker pool.
	pathMu    stdsync.Mutex
	pathLocks map[string]*stdsync.Mutex
}

// NewSyncService wires the orchestrator. workers <= 0 selects
// DefaultWorkers.
func NewSyncService(store Store, queue *OperationQueue, detector *ConflictDetector,
	resolver *ConflictResolver, backend Backend, workers int, logger *slog.Logger) *SyncService {
	if logger == nil {
		logger = slog.Default()
	}

	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &SyncService{
		store:     store,
		queue:     queue,
		detector:  detector,
		resolver:  resolver,
		backend:   backend,
		logger:    logger,
		workers:   workers,
		status:    NewHub[StatusEvent](logger),
		pathLocks: make(map[string]*stdsync.Mutex),
	}
}

// Status returns the broadcast stream of sync status transitions.
func (s *SyncService) Status() *Hub[StatusEvent] {
	return s.status
}

// Queue exposes the underlying operation queue for maintenance queries.
func (s *SyncService) Queue() *OperationQueue {
	return s.queue
}

// Stats returns the persisted cumulative sync statistics.
func (s *SyncService) Stats(ctx context.Context) (SyncStats, error) {
	return loadStats(ctx, s.store)
}

// SaveLocalFile records a local edit: the cache is updated and an upload
// is enqueued (coalescing with any pending upload for the path).
func (s *SyncService) SaveLocalFile(ctx context.Context, path string, content []byte) error {
	if err := s.store.UpsertFile(ctx, path, content); err != nil {
		return err
	}

	if err := s.store.DeleteSetting(ctx, tombstonePrefix+path); err != nil {
		return err
	}

	_, err := s.queue.Enqueue(ctx, path, OpUpload)

	return err
}

// DeleteLocalFile records a local deletion: the cache row is removed, a
// tombstone marks the path for remote deletion, and a delete operation
// is enqueued.
func (s *SyncService) DeleteLocalFile(ctx context.Context, path string) error {
	if err := s.store.DeleteFile(ctx, path); err != nil {
		return err
	}

	if err := s.store.SetSetting(ctx, tombstonePrefix+path, strconv.FormatInt(NowNano(), 10)); err != nil {
		return err
	}

	_, err := s.queue.Enqueue(ctx, path, OpDelete)

	return err
}

// FullSync diffs the cache against the remote listing, enqueues the
// resulting operations, and drains the queue. At most one full sync runs
// at a time; a concurrent call fails fast with ErrSyncInProgress. A
// paused engine fails fast with ErrPaused.
//
// Per-operation failures never abort the pass; they are retried up to
// the operation's budget and otherwise reported in ErrorsByKey.
func (s *SyncService) FullSync(ctx context.Context) (*BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelledErr("sync cancelled", err)
	}

	if paused, err := s.IsPaused(ctx); err != nil {
		return nil, err
	} else if paused {
		return nil, syncErr("paused", "sync is paused", ErrPaused)
	}

	if !s.syncing.CompareAndSwap(false, true) {
		return nil, syncErr("sync_in_progress", "a full sync is already running", ErrSyncInProgress)
	}
	defer s.syncing.Store(false)

	started := time.Now()

	s.logger.Info("full sync started")
	s.status.Publish(StatusEvent{Status: SyncSyncing})

	result, err := s.runFullSync(ctx)

	if result == nil {
		result = newBatchResult()
	}

	result.Duration = time.Since(started)

	if statsErr := recordSyncOutcome(ctx, s.store, err); statsErr != nil {
		s.logger.Error("could not persist sync statistics", "error", statsErr)
	}

	if err != nil {
		s.logger.Error("full sync failed", "error", err, "duration", result.Duration)
		s.status.Publish(StatusEvent{Status: SyncError, Error: err.Error()})

		return result, err
	}

	s.logger.Info("full sync finished",
		"uploaded_or_applied", len(result.SuccessfulKeys),
		"failed", len(result.ErrorsByKey),
		"conflicts", len(result.Conflicts),
		"duration", result.Duration)
	s.status.Publish(StatusEvent{Status: SyncSuccess})

	return result, nil
}

func (s *SyncService) runFullSync(ctx context.Context) (*BatchResult, error) {
	if err := s.computeDiff(ctx); err != nil {
		return nil, err
	}

	if err := s.mirrorFolders(ctx); err != nil {
		// Folder metadata is presentation-only; never fail a pass over it.
		s.logger.Warn("could not mirror remote folders", "error", err)
	}

	return s.drainQueue(ctx)
}

// mirrorFolders refreshes the folders table from the remote listing so
// presentation surfaces can show the remote hierarchy offline.
func (s *SyncService) mirrorFolders(ctx context.Context) error {
	folders, err := s.backend.ListFolders(ctx, "")
	if err != nil {
		return err
	}

	for _, folder := range folders {
		meta := fmt.Sprintf(`{"seen_at":%d}`, NowNano())

		if err := s.store.UpsertFolder(ctx, folder, meta); err != nil {
			return err
		}
	}

	return nil
}

// computeDiff enqueues the operations implied by the difference between
// the cache and the remote listing: local-only paths upload, remote-only
// paths download, tombstoned paths still present remotely delete.
func (s *SyncService) computeDiff(ctx context.Context) error {
	localPaths, err := s.store.ListFilePaths(ctx)
	if err != nil {
		return err
	}

	remotePaths, err := s.backend.ListFiles(ctx, "")
	if err != nil {
		return err
	}

	tombstones, err := s.store.SettingsWithPrefix(ctx, tombstonePrefix)
	if err != nil {
		return err
	}

	remoteSet := make(map[string]bool, len(remotePaths))
	for _, p := range remotePaths {
		remoteSet[p] = true
	}

	localSet := make(map[string]bool, len(localPaths))
	for _, p := range localPaths {
		localSet[p] = true
	}

	for _, p := range localPaths {
		if !remoteSet[p] {
			if _, err := s.queue.Enqueue(ctx, p, OpUpload); err != nil {
				return err
			}
		}
	}

	for _, p := range remotePaths {
		if localSet[p] {
			continue
		}

		if _, tombstoned := tombstones[tombstonePrefix+p]; tombstoned {
			if _, err := s.queue.Enqueue(ctx, p, OpDelete); err != nil {
				return err
			}

			continue
		}

		if _, err := s.queue.Enqueue(ctx, p, OpDownload); err != nil {
			return err
		}
	}

	return nil
}

// drainQueue executes due operations with a bounded worker pool until the
// queue is empty or the context is cancelled. An empty poll with workers
// still in flight waits rather than stopping, so a retryable failure
// requeued mid-drain is picked up again in the same pass. Cancellation
// leaves unclaimed operations pending for the next pass.
func (s *SyncService) drainQueue(ctx context.Context) (*BatchResult, error) {
	result := newBatchResult()

	var resultMu stdsync.Mutex
	var inFlight atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)

	for {
		if err := groupCtx.Err(); err != nil {
			break
		}

		if paused, err := s.IsPaused(ctx); err == nil && paused {
			s.logger.Info("pause requested, stopping drain")
			break
		}

		op, err := s.queue.Dequeue(ctx)
		if err != nil {
			group.Wait()
			return result, err
		}

		if op == nil {
			if inFlight.Load() == 0 {
				break
			}

			select {
			case <-groupCtx.Done():
			case <-time.After(drainPollInterval):
			}

			continue
		}

		inFlight.Add(1)

		group.Go(func() error {
			defer inFlight.Add(-1)
			s.executeOperation(groupCtx, op, result, &resultMu)
			return nil
		})
	}

	group.Wait()

	if err := ctx.Err(); err != nil {
		return result, cancelledErr("sync cancelled", err)
	}

	return result, nil
}

// executeOperation runs one claimed operation under the per-path lock,
// recording outcome on the queue row and in the batch result.
func (s *SyncService) executeOperation(ctx context.Context, op *Operation, result *BatchResult, resultMu *stdsync.Mutex) {
	unlock := s.lockPath(op.Path)
	defer unlock()

	conflict, err := s.applyOperation(ctx, op)

	resultMu.Lock()
	defer resultMu.Unlock()

	switch {
	case conflict != nil:
		// The conflict supersedes the operation; a retry would only
		// rediscover it.
		result.Conflicts = append(result.Conflicts, *conflict)

		if cancelErr := s.queue.CancelOperation(ctx, op.ID); cancelErr != nil {
			s.logger.Error("could not cancel conflicted operation", "id", op.ID, "error", cancelErr)
		}

	case err != nil:
		s.logger.Warn("operation failed", "id", op.ID, "path", op.Path, "type", op.Type, "error", err)

		if failErr := s.queue.MarkFailed(ctx, op.ID, err); failErr != nil {
			s.logger.Error("could not record failure", "id", op.ID, "error", failErr)
		}

		// Only surface in the error map once the retry budget is gone;
		// retryable rows return to pending for this or a later pass.
		if updated, getErr := s.queue.Get(ctx, op.ID); getErr == nil && updated != nil && updated.Status == StatusFailed {
			result.ErrorsByKey[op.Path] = err.Error()
		}

	default:
		if doneErr := s.queue.MarkCompleted(ctx, op.ID); doneErr != nil {
			s.logger.Error("could not record completion", "id", op.ID, "error", doneErr)
		}

		result.SuccessfulKeys = append(result.SuccessfulKeys, op.Path)
	}
}

// applyOperation performs the actual transfer. A non-nil DetectionResult
// means the operation was superseded by a conflict.
func (s *SyncService) applyOperation(ctx context.Context, op *Operation) (*DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelledErr("operation cancelled", err)
	}

	switch op.Type {
	case OpUpload:
		return s.applyUpload(ctx, op.Path)
	case OpDownload:
		return s.applyDownload(ctx, op.Path)
	case OpDelete:
		return nil, s.applyDelete(ctx, op.Path)
	default:
		return nil, validationErr("operation", fmt.Sprintf("unknown operation type %q", op.Type))
	}
}

// applyUpload pushes the cached content remotely, first checking whether
// the remote diverged. An equal remote is a no-op success; a diverged
// remote becomes a conflict, auto-resolved only when the detector deems
// it safe.
func (s *SyncService) applyUpload(ctx context.Context, path string) (*DetectionResult, error) {
	local, err := s.store.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}

	if local == nil {
		// Deleted locally between enqueue and execution.
		s.logger.Debug("skipping upload of vanished file", "path", path)
		return nil, nil
	}

	exists, err := s.backend.FileExists(ctx, path)
	if err != nil {
		return nil, err
	}

	if !exists {
		// New file, nothing to diverge from.
		return nil, s.backend.UploadFile(ctx, path, local.Content)
	}

	detection, err := s.detector.DetectFileConflict(ctx, path)
	if err != nil {
		return nil, err
	}

	if detection == nil {
		// Identical content: re-upload is harmless and refreshes the object.
		return nil, s.backend.UploadFile(ctx, path, local.Content)
	}

	if resolved := s.tryAutoResolve(ctx, detection); resolved {
		return nil, nil
	}

	return detection, nil
}

// applyDownload pulls remote content into the cache. A remote that
// vanished after listing is a conflict when local content exists, a
// no-op otherwise.
func (s *SyncService) applyDownload(ctx context.Context, path string) (*DetectionResult, error) {
	content, err := s.backend.DownloadFile(ctx, path)

	if errors.Is(err, ErrRemoteNotFound) {
		local, getErr := s.store.GetFile(ctx, path)
		if getErr != nil {
			return nil, getErr
		}

		if local == nil {
			return nil, nil
		}

		return s.detector.deleteConflict(path, local), nil
	}

	if err != nil {
		return nil, err
	}

	local, err := s.store.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}

	if local != nil && !bytes.Equal(local.Content, content) {
		detection, detErr := s.detector.DetectFileConflict(ctx, path)
		if detErr != nil {
			return nil, detErr
		}

		if detection != nil {
			if resolved := s.tryAutoResolve(ctx, detection); resolved {
				return nil, nil
			}

			return detection, nil
		}
	}

	return nil, s.store.UpsertFile(ctx, path, content)
}

// applyDelete removes the path remotely and clears its tombstone. A
// remote that is already gone counts as success.
func (s *SyncService) applyDelete(ctx context.Context, path string) error {
	err := s.backend.DeleteFile(ctx, path)
	if err != nil && !errors.Is(err, ErrRemoteNotFound) {
		return err
	}

	if err := s.store.DeleteFile(ctx, path); err != nil {
		return err
	}

	return s.store.DeleteSetting(ctx, tombstonePrefix+path)
}

// tryAutoResolve applies the detector's safe default when one exists.
func (s *SyncService) tryAutoResolve(ctx context.Context, detection *DetectionResult) bool {
	if detection.AutoResolution == nil || detection.Conflict == nil {
		return false
	}

	res := s.resolver.ResolveConflict(ctx, detection.Conflict, *detection.AutoResolution)
	if !res.Success {
		s.logger.Warn("auto-resolution failed",
			"path", detection.Path, "resolution", *detection.AutoResolution, "error", res.Err)
		return false
	}

	s.logger.Info("conflict auto-resolved",
		"path", detection.Path, "resolution", *detection.AutoResolution)

	return true
}

// SyncFile synchronizes a single path immediately, bypassing the queue
// but honoring the pause gate and per-path exclusion.
func (s *SyncService) SyncFile(ctx context.Context, path string) (*BatchResult, error) {
	if paused, err := s.IsPaused(ctx); err != nil {
		return nil, err
	} else if paused {
		return nil, syncErr("paused", "sync is paused", ErrPaused)
	}

	unlock := s.lockPath(path)
	defer unlock()

	started := time.Now()
	result := newBatchResult()

	tombstones, err := s.store.SettingsWithPrefix(ctx, tombstonePrefix+path)
	if err != nil {
		return nil, err
	}

	op := &Operation{Path: path, Type: OpUpload}

	if _, tombstoned := tombstones[tombstonePrefix+path]; tombstoned {
		op.Type = OpDelete
	} else if local, err := s.store.GetFile(ctx, path); err != nil {
		return nil, err
	} else if local == nil {
		op.Type = OpDownload
	}

	conflict, err := s.applyOperation(ctx, op)

	switch {
	case conflict != nil:
		result.Conflicts = append(result.Conflicts, *conflict)
	case err != nil:
		result.ErrorsByKey[path] = err.Error()
	default:
		result.SuccessfulKeys = append(result.SuccessfulKeys, path)
	}

	result.Duration = time.Since(started)

	return result, nil
}

// Pause gates all subsequent sync entry points. d > 0 auto-expires the
// pause after that duration; d == 0 pauses until Resume.
func (s *SyncService) Pause(ctx context.Context, d time.Duration) error {
	if err := s.store.SetSetting(ctx, settingPaused, "true"); err != nil {
		return err
	}

	if d > 0 {
		until := NowNano() + d.Nanoseconds()

		if err := s.store.SetSetting(ctx, settingPausedUntil, strconv.FormatInt(until, 10)); err != nil {
			return err
		}

		s.logger.Info("sync paused", "until", time.Unix(0, until))

		return nil
	}

	if err := s.store.DeleteSetting(ctx, settingPausedUntil); err != nil {
		return err
	}

	s.logger.Info("sync paused indefinitely")

	return nil
}

// Resume clears the pause gate.
func (s *SyncService) Resume(ctx context.Context) error {
	if err := s.store.DeleteSetting(ctx, settingPaused); err != nil {
		return err
	}

	if err := s.store.DeleteSetting(ctx, settingPausedUntil); err != nil {
		return err
	}

	s.logger.Info("sync resumed")

	return nil
}

// IsPaused reports the pause gate, clearing it when a timed pause has
// expired.
func (s *SyncService) IsPaused(ctx context.Context) (bool, error) {
	paused, err := s.store.GetSetting(ctx, settingPaused)
	if err != nil {
		return false, err
	}

	if paused != "true" {
		return false, nil
	}

	untilRaw, err := s.store.GetSetting(ctx, settingPausedUntil)
	if err != nil {
		return false, err
	}

	if untilRaw == "" {
		return true, nil
	}

	until, err := strconv.ParseInt(untilRaw, 10, 64)
	if err != nil || NowNano() >= until {
		if resumeErr := s.Resume(ctx); resumeErr != nil {
			return true, resumeErr
		}

		return false, nil
	}

	return true, nil
}

// IsSyncing reports whether a full sync pass is currently running.
func (s *SyncService) IsSyncing() bool {
	return s.syncing.Load()
}

// SyncInfo is the pull-based summary query for presentation surfaces.
type SyncInfo struct {
	Syncing    bool
	Paused     bool
	Stats      SyncStats
	QueueStats QueueStats
}

// GetSyncInfo assembles the engine's current state in one call.
func (s *SyncService) GetSyncInfo(ctx context.Context) (*SyncInfo, error) {
	paused, err := s.IsPaused(ctx)
	if err != nil {
		return nil, err
	}

	stats, err := loadStats(ctx, s.store)
	if err != nil {
		return nil, err
	}

	queueStats, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}

	return &SyncInfo{
		Syncing:    s.IsSyncing(),
		Paused:     paused,
		Stats:      stats,
		QueueStats: queueStats,
	}, nil
}

// lockPath acquires the mutex dedicated to path, creating it on first
// use. The returned func releases it.
func (s *SyncService) lockPath(path string) func() {
	s.pathMu.Lock()

	mu, ok := s.pathLocks[path]
	if !ok {
		mu = &stdsync.Mutex{}
		s.pathLocks[path] = mu
	}

	s.pathMu.Unlock()

	mu.Lock()

	return mu.Unlock
}

func newBatchResult() *BatchResult {
	return &BatchResult{ErrorsByKey: make(map[string]string)}
}

// TombstonedPaths lists paths deleted locally but not yet propagated.
func (s *SyncService) TombstonedPaths(ctx context.Context) ([]string, error) {
	tombstones, err := s.store.SettingsWithPrefix(ctx, tombstonePrefix)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(tombstones))
	for key := range tombstones {
		paths = append(paths, strings.TrimPrefix(key, tombstonePrefix))
	}

	return paths, nil
}
