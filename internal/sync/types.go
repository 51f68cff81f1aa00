// Package sync implements the offline-first note synchronization engine:
// the local cache store, the durable operation queue, conflict detection
// and resolution, sync orchestration, and the auto-sync policy layer.
package sync

import (
	"context"
	"time"
)

// OperationType is the kind of file operation tracked in the queue.
type OperationType string

// Operation types as stored in the sync_queue op_type column.
const (
	OpUpload   OperationType = "upload"
	OpDownload OperationType = "download"
	OpDelete   OperationType = "delete"
)

// OperationStatus is the lifecycle state of a queued operation.
type OperationStatus string

// Operation statuses as stored in the sync_queue status column.
const (
	StatusPending    OperationStatus = "pending"
	StatusInProgress OperationStatus = "in_progress"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
	StatusCancelled  OperationStatus = "cancelled"
)

// DefaultMaxRetries is the retry budget assigned to new operations.
const DefaultMaxRetries = 3

// Operation is a single durable file operation in the sync queue.
type Operation struct {
	ID          string
	Path        string
	Type        OperationType
	Status      OperationStatus
	CreatedAt   int64  // Unix nanoseconds
	ScheduledAt *int64 // optional earliest execution time
	CompletedAt *int64 // set on terminal transition
	RetryCount  int
	MaxRetries  int
	ErrorMsg    string
	Metadata    map[string]string
}

// CanRetry reports whether a failed operation still has retry budget.
func (o *Operation) CanRetry() bool {
	return o.Status == StatusFailed && o.RetryCount < o.MaxRetries
}

// IsFinished reports whether the operation is terminal: completed,
// cancelled, or failed with the retry budget exhausted.
func (o *Operation) IsFinished() bool {
	switch o.Status {
	case StatusCompleted, StatusCancelled:
		return true
	case StatusFailed:
		return !o.CanRetry()
	default:
		return false
	}
}

// NeedsExecution reports whether the operation should be picked up by a
// sync pass: pending, or failed but retryable.
func (o *Operation) NeedsExecution() bool {
	return o.Status == StatusPending || o.CanRetry()
}

// CachedFile is one row of the local file cache.
type CachedFile struct {
	Path     string
	Content  []byte
	CachedAt int64 // Unix nanoseconds
}

// FileConflict carries both sides of a diverged file.
//
// RemoteModified is left 0 by the detector: the backend exposes no
// remote modification time, so the stale-divergence severity raise only
// applies when the caller fills it in.
type FileConflict struct {
	Path           string
	LocalModified  int64 // Unix nanoseconds
	RemoteModified int64 // Unix nanoseconds; 0 when unknown
	LocalContent   []byte
	RemoteContent  []byte
}

// ConflictType classifies how local and remote state diverged.
type ConflictType string

// Conflict classifications produced by the detector.
const (
	ConflictContent   ConflictType = "content"
	ConflictDelete    ConflictType = "delete"
	ConflictTimestamp ConflictType = "timestamp"
	ConflictCreate    ConflictType = "create"
)

// Severity grades how risky a conflict is to resolve automatically.
type Severity string

// Severity levels from least to most risky.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Resolution is a conflict resolution strategy.
type Resolution string

// Resolution strategies applied by the resolver.
const (
	ResolveKeepLocal  Resolution = "keep_local"
	ResolveKeepRemote Resolution = "keep_remote"
	ResolveMerge      Resolution = "merge"
	ResolveCreateBoth Resolution = "create_both"
)

// DetectionResult is the detector's verdict for a single path.
type DetectionResult struct {
	Path        string
	Type        ConflictType
	Severity    Severity
	Conflict    *FileConflict
	Description string
	// AutoResolution is the safe default strategy, set only for
	// low-severity results.
	AutoResolution *Resolution
}

// ResolutionResult is the outcome of applying (or previewing) a resolution.
type ResolutionResult struct {
	Success       bool
	Resolution    Resolution
	ResultContent []byte
	CreatedFiles  []string
	Err           error
}

// Backup is a timestamped shadow copy taken before a destructive resolution.
type Backup struct {
	ID        string
	Path      string // original file path
	Content   []byte
	CreatedAt int64 // Unix nanoseconds
}

// BatchResult summarizes one sync pass. Per-operation failures never abort
// the pass; successes, failures, and conflicts are reported separately.
type BatchResult struct {
	SuccessfulKeys []string
	ErrorsByKey    map[string]string
	Conflicts      []DetectionResult
	Duration       time.Duration
}

// QueueStats aggregates per-status operation counts.
type QueueStats struct {
	Pending    int
	InProgress int
	Completed  int
	Failed     int
	Cancelled  int
}

// Total returns the number of operations across all statuses.
func (s QueueStats) Total() int {
	return s.Pending + s.InProgress + s.Completed + s.Failed + s.Cancelled
}

// SyncStatus is the coarse engine state published on the status stream.
type SyncStatus string

// Status stream values.
const (
	SyncIdle    SyncStatus = "idle"
	SyncSyncing SyncStatus = "syncing"
	SyncSuccess SyncStatus = "success"
	SyncError   SyncStatus = "error"
)

// StatusEvent is one entry on the sync status stream.
type StatusEvent struct {
	Status SyncStatus
	Error  string // set when Status is SyncError
}

// QueueEventKind tags queue lifecycle events.
type QueueEventKind string

// Queue event kinds.
const (
	QueueEnqueued  QueueEventKind = "enqueued"
	QueueUpdated   QueueEventKind = "updated"
	QueueCompleted QueueEventKind = "completed"
	QueueFailed    QueueEventKind = "failed"
)

// QueueEvent is one entry on the operation queue event stream.
type QueueEvent struct {
	Kind      QueueEventKind
	Operation Operation
}

// ConflictEventKind tags conflict lifecycle events.
type ConflictEventKind string

// Conflict event kinds.
const (
	ConflictDetected ConflictEventKind = "detected"
	ConflictResolved ConflictEventKind = "resolved"
)

// ConflictEvent is one entry on the conflict event stream.
type ConflictEvent struct {
	Kind       ConflictEventKind
	Path       string
	Result     *DetectionResult // set for detected events
	Resolution Resolution       // set for resolved events
}

// Backend is the remote object-storage collaborator. Implementations
// return network-kind errors on connectivity failure and storage-kind
// errors otherwise; missing objects are reported via ErrRemoteNotFound.
type Backend interface {
	UploadFile(ctx context.Context, path string, content []byte) error
	DownloadFile(ctx context.Context, path string) ([]byte, error)
	DeleteFile(ctx context.Context, path string) error
	FileExists(ctx context.Context, path string) (bool, error)
	ListFiles(ctx context.Context, prefix string) ([]string, error)
	ListFolders(ctx context.Context, prefix string) ([]string, error)
}

// Store is the interface for the local cache database. All engine
// components operate against this interface rather than the concrete
// SQLite implementation.
type Store interface {
	// Files
	UpsertFile(ctx context.Context, path string, content []byte) error
	GetFile(ctx context.Context, path string) (*CachedFile, error)
	FileExists(ctx context.Context, path string) (bool, error)
	ListFilePaths(ctx context.Context) ([]string, error)
	DeleteFile(ctx context.Context, path string) error
	ClearFiles(ctx context.Context) error

	// Folders
	UpsertFolder(ctx context.Context, path, metadataJSON string) error
	GetFolder(ctx context.Context, path string) (string, error)
	DeleteFolder(ctx context.Context, path string) error

	// Settings
	SetSetting(ctx context.Context, key, value string) error
	GetSetting(ctx context.Context, key string) (string, error)
	SettingsWithPrefix(ctx context.Context, prefix string) (map[string]string, error)
	DeleteSetting(ctx context.Context, key string) error

	// Backups
	SaveBackup(ctx context.Context, b *Backup) error
	BackupsForPath(ctx context.Context, path string) ([]*Backup, error)
	DeleteBackupsBefore(ctx context.Context, cutoff int64) (int64, error)

	Close() error
}

// NowNano returns the current time as Unix nanoseconds. All internal
// timestamps use int64 nanoseconds; conversion happens at boundaries.
func NowNano() int64 {
	return time.Now().UnixNano()
}

// Int64Ptr returns a pointer to v. Used for nullable columns.
func Int64Ptr(v int64) *int64 {
	return &v
}
