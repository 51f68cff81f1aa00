package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// DefaultQueuePolicy orders destructive operations first so deletions
// propagate before uploads race them, then pushes local changes out
// before pulling remote ones in.
var DefaultQueuePolicy = []OperationType{OpDelete, OpUpload, OpDownload}

// OperationQueue is the durable, prioritized queue of file operations.
// Rows live in the sync_queue table of the shared cache database, so a
// crash mid-sync loses nothing: pending work is picked up on restart.
//
// Status transitions are enforced in SQL with guarded UPDATEs; an
// out-of-order transition affects zero rows and surfaces as an error.
type OperationQueue struct {
	db         *sql.DB
	logger     *slog.Logger
	policy     []OperationType
	events     *Hub[QueueEvent]
	maxRetries int

	enqueueStmt, getStmt, findPendingStmt *sql.Stmt
}

// QueueOption customizes queue construction.
type QueueOption func(*OperationQueue)

// WithDefaultMaxRetries sets the retry budget assigned to operations
// enqueued without an explicit WithMaxRetries. Negative values are
// ignored.
func WithDefaultMaxRetries(n int) QueueOption {
	return func(q *OperationQueue) {
		if n >= 0 {
			q.maxRetries = n
		}
	}
}

// NewOperationQueue wires a queue onto the store's database. policy sets
// the dequeue priority order; nil means DefaultQueuePolicy. Every
// operation type must appear exactly once.
func NewOperationQueue(store *SQLiteStore, policy []OperationType, logger *slog.Logger, opts ...QueueOption) (*OperationQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if policy == nil {
		policy = DefaultQueuePolicy
	}

	if err := validatePolicy(policy); err != nil {
		return nil, err
	}

	q := &OperationQueue{
		db:         store.DB(),
		logger:     logger,
		policy:     policy,
		events:     NewHub[QueueEvent](logger),
		maxRetries: DefaultMaxRetries,
	}

	for _, opt := range opts {
		opt(q)
	}

	if err := q.prepareStatements(context.Background()); err != nil {
		return nil, storageErr("prepare queue statements", err)
	}

	return q, nil
}

func validatePolicy(policy []OperationType) error {
	seen := make(map[OperationType]bool, len(policy))

	for _, t := range policy {
		switch t {
		case OpUpload, OpDownload, OpDelete:
		default:
			return validationErr("queue_policy", fmt.Sprintf("unknown operation type %q", t))
		}

		if seen[t] {
			return validationErr("queue_policy", fmt.Sprintf("duplicate operation type %q", t))
		}

		seen[t] = true
	}

	if len(seen) != 3 {
		return validationErr("queue_policy", "policy must list upload, download, and delete exactly once")
	}

	return nil
}

const (
	sqlEnqueueOp = `INSERT INTO sync_queue
		(id, file_path, op_type, status, created_at, scheduled_at, retry_count, max_retries, metadata_json)
		VALUES (?, ?, ?, 'pending', ?, ?, 0, ?, ?)`

	sqlGetOp = `SELECT id, file_path, op_type, status, created_at, scheduled_at,
		completed_at, retry_count, max_retries, error_message, metadata_json
		FROM sync_queue WHERE id = ?`

	sqlFindPendingOp = `SELECT id, file_path, op_type, status, created_at, scheduled_at,
		completed_at, retry_count, max_retries, error_message, metadata_json
		FROM sync_queue WHERE file_path = ? AND op_type = ? AND status = 'pending'`
)

func (q *OperationQueue) prepareStatements(ctx context.Context) error {
	defs := []stmtDef{
		{&q.enqueueStmt, sqlEnqueueOp, "enqueueOp"},
		{&q.getStmt, sqlGetOp, "getOp"},
		{&q.findPendingStmt, sqlFindPendingOp, "findPendingOp"},
	}

	return prepareAll(ctx, q.db, defs)
}

// Events returns the queue lifecycle event hub.
func (q *OperationQueue) Events() *Hub[QueueEvent] {
	return q.events
}

// Enqueue adds a pending operation for path. When an identical pending
// (path, type) pair already exists the new request is coalesced into it
// and the existing operation is returned; the duplicate is not an error.
func (q *OperationQueue) Enqueue(ctx context.Context, path string, opType OperationType, opts ...EnqueueOption) (*Operation, error) {
	if path == "" {
		return nil, validationErr("enqueue", "path must not be empty")
	}

	switch opType {
	case OpUpload, OpDownload, OpDelete:
	default:
		return nil, validationErr("enqueue", fmt.Sprintf("unknown operation type %q", opType))
	}

	if existing, err := q.findPending(ctx, path, opType); err != nil {
		return nil, err
	} else if existing != nil {
		q.logger.Debug("coalescing duplicate operation",
			"path", path, "type", opType, "existing_id", existing.ID)
		return existing, nil
	}

	op := &Operation{
		ID:         uuid.NewString(),
		Path:       path,
		Type:       opType,
		Status:     StatusPending,
		CreatedAt:  NowNano(),
		MaxRetries: q.maxRetries,
	}

	for _, opt := range opts {
		opt(op)
	}

	metaJSON, err := marshalMetadata(op.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = q.enqueueStmt.ExecContext(ctx,
		op.ID, op.Path, string(op.Type), op.CreatedAt,
		op.ScheduledAt, op.MaxRetries, metaJSON)
	if err != nil {
		// The partial unique index on pending (path, type) closes the
		// race between findPending and the insert.
		if isUniqueViolation(err) {
			return q.findPending(ctx, path, opType)
		}

		return nil, storageErr(fmt.Sprintf("enqueue %s for %q", opType, path), err)
	}

	q.logger.Info("operation enqueued", "id", op.ID, "path", path, "type", opType)
	q.events.Publish(QueueEvent{Kind: QueueEnqueued, Operation: *op})

	return op, nil
}

// EnqueueOption customizes an operation before insertion.
type EnqueueOption func(*Operation)

// WithMaxRetries overrides the default retry budget.
func WithMaxRetries(n int) EnqueueOption {
	return func(o *Operation) { o.MaxRetries = n }
}

// WithScheduledAt defers execution until t (Unix nanoseconds).
func WithScheduledAt(t int64) EnqueueOption {
	return func(o *Operation) { o.ScheduledAt = Int64Ptr(t) }
}

// WithMetadata attaches arbitrary key-value context to the operation.
func WithMetadata(meta map[string]string) EnqueueOption {
	return func(o *Operation) { o.Metadata = meta }
}

// Dequeue claims the highest-priority due pending operation, atomically
// transitioning it to in_progress. Returns (nil, nil) when the queue has
// no due work.
//
// Priority follows the configured policy; within a type, older
// operations win, with the row id as the final tiebreak.
func (q *OperationQueue) Dequeue(ctx context.Context) (*Operation, error) {
	query := fmt.Sprintf(`SELECT id FROM sync_queue
		WHERE status = 'pending' AND (scheduled_at IS NULL OR scheduled_at <= ?)
		ORDER BY %s, created_at ASC, id ASC
		LIMIT 1`, q.priorityCase())

	for {
		var id string

		err := q.db.QueryRowContext(ctx, query, NowNano()).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		if err != nil {
			return nil, storageErr("select next operation", err)
		}

		// Claim via guarded transition; a concurrent claimer makes this
		// affect zero rows, in which case we pick again.
		result, err := q.db.ExecContext(ctx,
			`UPDATE sync_queue SET status = 'in_progress' WHERE id = ? AND status = 'pending'`, id)
		if err != nil {
			return nil, storageErr(fmt.Sprintf("claim operation %s", id), err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return nil, storageErr("rows affected on claim", err)
		}

		if affected == 0 {
			continue
		}

		op, err := q.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		q.events.Publish(QueueEvent{Kind: QueueUpdated, Operation: *op})

		return op, nil
	}
}

// priorityCase builds the CASE expression ranking op_type per the policy.
func (q *OperationQueue) priorityCase() string {
	var b strings.Builder

	b.WriteString("CASE op_type")

	for i, t := range q.policy {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", t, i)
	}

	b.WriteString(" ELSE 99 END ASC")

	return b.String()
}

// Get returns the operation with the given id, nil when unknown.
func (q *OperationQueue) Get(ctx context.Context, id string) (*Operation, error) {
	op, err := scanOperation(q.getStmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, storageErr(fmt.Sprintf("get operation %s", id), err)
	}

	return op, nil
}

func (q *OperationQueue) findPending(ctx context.Context, path string, opType OperationType) (*Operation, error) {
	op, err := scanOperation(q.findPendingStmt.QueryRowContext(ctx, path, string(opType)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, storageErr(fmt.Sprintf("find pending %s for %q", opType, path), err)
	}

	return op, nil
}

// MarkCompleted transitions an in_progress operation to completed.
func (q *OperationQueue) MarkCompleted(ctx context.Context, id string) error {
	result, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = 'completed', completed_at = ?, error_message = ''
		 WHERE id = ? AND status = 'in_progress'`, NowNano(), id)
	if err != nil {
		return storageErr(fmt.Sprintf("complete operation %s", id), err)
	}

	if err := requireAffected(result, id, "in_progress"); err != nil {
		return err
	}

	q.logger.Info("operation completed", "id", id)
	q.publishByID(ctx, QueueCompleted, id)

	return nil
}

// MarkFailed records a failure on an in_progress operation. If retry
// budget remains the operation returns to pending for a later pass;
// otherwise it lands in failed with completed_at set.
func (q *OperationQueue) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	result, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET
			retry_count   = retry_count + 1,
			error_message = ?,
			status        = CASE WHEN retry_count + 1 < max_retries THEN 'pending' ELSE 'failed' END,
			completed_at  = CASE WHEN retry_count + 1 < max_retries THEN NULL ELSE ? END
		 WHERE id = ? AND status = 'in_progress'`, msg, NowNano(), id)
	if err != nil {
		return storageErr(fmt.Sprintf("fail operation %s", id), err)
	}

	if err := requireAffected(result, id, "in_progress"); err != nil {
		return err
	}

	op, err := q.Get(ctx, id)
	if err != nil {
		return err
	}

	if op != nil && op.Status == StatusPending {
		q.logger.Warn("operation failed, will retry",
			"id", id, "path", op.Path, "attempt", op.RetryCount, "max", op.MaxRetries, "error", msg)
		q.events.Publish(QueueEvent{Kind: QueueUpdated, Operation: *op})
	} else if op != nil {
		q.logger.Error("operation failed permanently",
			"id", id, "path", op.Path, "attempts", op.RetryCount, "error", msg)
		q.events.Publish(QueueEvent{Kind: QueueFailed, Operation: *op})
	}

	return nil
}

// CancelOperation cancels a pending or in_progress operation. Cancelling
// a terminal operation is an error.
func (q *OperationQueue) CancelOperation(ctx context.Context, id string) error {
	result, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = 'cancelled', completed_at = ?
		 WHERE id = ? AND status IN ('pending', 'in_progress')`, NowNano(), id)
	if err != nil {
		return storageErr(fmt.Sprintf("cancel operation %s", id), err)
	}

	if err := requireAffected(result, id, "pending or in_progress"); err != nil {
		return err
	}

	q.logger.Info("operation cancelled", "id", id)
	q.publishByID(ctx, QueueUpdated, id)

	return nil
}

// RetryFailedOperations returns failed operations with remaining retry
// budget to pending. Returns the number of operations requeued.
func (q *OperationQueue) RetryFailedOperations(ctx context.Context) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = 'pending', completed_at = NULL
		 WHERE status = 'failed' AND retry_count < max_retries`)
	if err != nil {
		return 0, storageErr("retry failed operations", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("rows affected on retry", err)
	}

	if affected > 0 {
		q.logger.Info("requeued failed operations", "count", affected)
	}

	return affected, nil
}

// CleanupCompleted deletes terminal operations older than cutoff (Unix
// nanoseconds, compared against completed_at). Returns rows deleted.
func (q *OperationQueue) CleanupCompleted(ctx context.Context, cutoff int64) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		`DELETE FROM sync_queue
		 WHERE status IN ('completed', 'cancelled', 'failed')
		   AND completed_at IS NOT NULL AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, storageErr("cleanup completed operations", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("rows affected on cleanup", err)
	}

	if affected > 0 {
		q.logger.Info("cleaned up finished operations", "count", affected)
	}

	return affected, nil
}

// ListByStatus returns operations in a given status, oldest first.
func (q *OperationQueue) ListByStatus(ctx context.Context, status OperationStatus) ([]*Operation, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, file_path, op_type, status, created_at, scheduled_at,
			completed_at, retry_count, max_retries, error_message, metadata_json
		 FROM sync_queue WHERE status = ? ORDER BY created_at ASC, id ASC`, string(status))
	if err != nil {
		return nil, storageErr(fmt.Sprintf("list %s operations", status), err)
	}
	defer rows.Close()

	var ops []*Operation

	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, storageErr("scan operation row", err)
		}

		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate operation rows", err)
	}

	return ops, nil
}

// OperationsForPath returns all operations touching path, newest first.
func (q *OperationQueue) OperationsForPath(ctx context.Context, path string) ([]*Operation, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, file_path, op_type, status, created_at, scheduled_at,
			completed_at, retry_count, max_retries, error_message, metadata_json
		 FROM sync_queue WHERE file_path = ? ORDER BY created_at DESC, id DESC`, path)
	if err != nil {
		return nil, storageErr(fmt.Sprintf("list operations for %q", path), err)
	}
	defer rows.Close()

	var ops []*Operation

	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, storageErr("scan operation row", err)
		}

		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate operation rows", err)
	}

	return ops, nil
}

// Stats counts operations per status.
func (q *OperationQueue) Stats(ctx context.Context) (QueueStats, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return QueueStats{}, storageErr("queue stats", err)
	}
	defer rows.Close()

	var stats QueueStats

	for rows.Next() {
		var status string
		var count int

		if err := rows.Scan(&status, &count); err != nil {
			return QueueStats{}, storageErr("scan stats row", err)
		}

		switch OperationStatus(status) {
		case StatusPending:
			stats.Pending = count
		case StatusInProgress:
			stats.InProgress = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		case StatusCancelled:
			stats.Cancelled = count
		}
	}

	if err := rows.Err(); err != nil {
		return QueueStats{}, storageErr("iterate stats rows", err)
	}

	return stats, nil
}

// RecoverInProgress returns operations stuck in in_progress (from a
// crashed run) to pending. Called once at startup before sync begins.
func (q *OperationQueue) RecoverInProgress(ctx context.Context) (int64, error) {
	// A pending duplicate may have been enqueued while the interrupted
	// row was claimed; the dedup index forbids two pending rows, so the
	// interrupted one is redundant and gets cancelled instead.
	_, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = 'cancelled', completed_at = ?
		 WHERE status = 'in_progress' AND EXISTS (
			SELECT 1 FROM sync_queue p
			WHERE p.file_path = sync_queue.file_path
			  AND p.op_type = sync_queue.op_type
			  AND p.status = 'pending')`, NowNano())
	if err != nil {
		return 0, storageErr("cancel superseded operations", err)
	}

	result, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = 'pending' WHERE status = 'in_progress'`)
	if err != nil {
		return 0, storageErr("recover in-progress operations", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("rows affected on recovery", err)
	}

	if affected > 0 {
		q.logger.Warn("recovered interrupted operations", "count", affected)
	}

	return affected, nil
}

// Close releases the queue's prepared statements. The shared database is
// closed by the store, not here.
func (q *OperationQueue) Close() error {
	q.events.Close()

	var errs []string

	for _, stmt := range []*sql.Stmt{q.enqueueStmt, q.getStmt, q.findPendingStmt} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close queue statements: %s", strings.Join(errs, "; "))
	}

	return nil
}

// publishByID loads an operation and publishes it; load failures are
// logged, never surfaced, since the state change already committed.
func (q *OperationQueue) publishByID(ctx context.Context, kind QueueEventKind, id string) {
	op, err := q.Get(ctx, id)
	if err != nil || op == nil {
		q.logger.Debug("skipping event for unloadable operation", "id", id, "error", err)
		return
	}

	q.events.Publish(QueueEvent{Kind: kind, Operation: *op})
}

// requireAffected converts a zero-row guarded UPDATE into a transition error.
func requireAffected(result sql.Result, id, wantStatus string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return storageErr("rows affected", err)
	}

	if affected == 0 {
		return syncErr("invalid_transition",
			fmt.Sprintf("operation %s is not %s", id, wantStatus), nil)
	}

	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*Operation, error) {
	op := &Operation{}

	var opType, status string
	var scheduledAt, completedAt sql.NullInt64
	var errMsg, metaJSON sql.NullString

	err := row.Scan(&op.ID, &op.Path, &opType, &status, &op.CreatedAt,
		&scheduledAt, &completedAt, &op.RetryCount, &op.MaxRetries, &errMsg, &metaJSON)
	if err != nil {
		return nil, err
	}

	op.Type = OperationType(opType)
	op.Status = OperationStatus(status)

	if scheduledAt.Valid {
		op.ScheduledAt = Int64Ptr(scheduledAt.Int64)
	}

	if completedAt.Valid {
		op.CompletedAt = Int64Ptr(completedAt.Int64)
	}

	if errMsg.Valid {
		op.ErrorMsg = errMsg.String
	}

	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &op.Metadata); err != nil {
			return nil, fmt.Errorf("decode operation metadata: %w", err)
		}
	}

	return op, nil
}

func marshalMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		return "", validationErr("metadata", "metadata not serializable: "+err.Error())
	}

	return string(raw), nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
