package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Merge markers emitted by the merge resolution, git-style.
const (
	mergeMarkerLocal     = "<<<<<<< LOCAL"
	mergeMarkerSeparator = "======="
	mergeMarkerRemote    = ">>>>>>> REMOTE"
)

// ConflictResolver applies resolution strategies to detected conflicts,
// mutating local cache and remote state to converge on one canonical
// version. Local content is backed up before any resolution that
// destroys it.
type ConflictResolver struct {
	store   Store
	backend Backend
	logger  *slog.Logger
}

// NewConflictResolver builds a resolver over the given store and backend.
func NewConflictResolver(store Store, backend Backend, logger *slog.Logger) *ConflictResolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConflictResolver{store: store, backend: backend, logger: logger}
}

// ResolveConflict applies resolution to conflict. Remote mutations run
// before cache mutations so a failed remote call leaves the cache
// untouched; the returned result carries the error with Success false.
func (r *ConflictResolver) ResolveConflict(ctx context.Context, conflict *FileConflict, resolution Resolution) ResolutionResult {
	if conflict == nil || conflict.Path == "" {
		return failedResolution(resolution, validationErr("resolve", "conflict must name a file path"))
	}

	if err := ctx.Err(); err != nil {
		return failedResolution(resolution, cancelledErr("resolution cancelled", err))
	}

	r.logger.Info("resolving conflict", "path", conflict.Path, "resolution", resolution)

	switch resolution {
	case ResolveKeepLocal:
		return r.keepLocal(ctx, conflict)
	case ResolveKeepRemote:
		return r.keepRemote(ctx, conflict)
	case ResolveMerge:
		return r.merge(ctx, conflict)
	case ResolveCreateBoth:
		return r.createBoth(ctx, conflict)
	default:
		return failedResolution(resolution,
			validationErr("resolve", fmt.Sprintf("unknown resolution %q", resolution)))
	}
}

// PreviewResolution computes the content a resolution would produce
// without touching local or remote state.
func (r *ConflictResolver) PreviewResolution(conflict *FileConflict, resolution Resolution) ResolutionResult {
	if conflict == nil || conflict.Path == "" {
		return failedResolution(resolution, validationErr("preview", "conflict must name a file path"))
	}

	switch resolution {
	case ResolveKeepLocal:
		return ResolutionResult{Success: true, Resolution: resolution, ResultContent: conflict.LocalContent}
	case ResolveKeepRemote:
		return ResolutionResult{Success: true, Resolution: resolution, ResultContent: conflict.RemoteContent}
	case ResolveMerge:
		return ResolutionResult{
			Success:       true,
			Resolution:    resolution,
			ResultContent: mergeContents(conflict.LocalContent, conflict.RemoteContent),
		}
	case ResolveCreateBoth:
		var created []string
		if conflict.LocalContent != nil {
			created = append(created, conflict.Path+"_local")
		}
		if conflict.RemoteContent != nil {
			created = append(created, conflict.Path+"_remote")
		}
		return ResolutionResult{Success: true, Resolution: resolution, CreatedFiles: created}
	default:
		return failedResolution(resolution,
			validationErr("preview", fmt.Sprintf("unknown resolution %q", resolution)))
	}
}

// keepLocal uploads the local version; the cache already holds it.
func (r *ConflictResolver) keepLocal(ctx context.Context, conflict *FileConflict) ResolutionResult {
	if err := r.backend.UploadFile(ctx, conflict.Path, conflict.LocalContent); err != nil {
		return failedResolution(ResolveKeepLocal, err)
	}

	return ResolutionResult{
		Success:       true,
		Resolution:    ResolveKeepLocal,
		ResultContent: conflict.LocalContent,
	}
}

// keepRemote overwrites the cache with the remote version. Purely local;
// no remote write happens.
func (r *ConflictResolver) keepRemote(ctx context.Context, conflict *FileConflict) ResolutionResult {
	if _, err := r.CreateBackup(ctx, conflict.Path, conflict.LocalContent); err != nil {
		return failedResolution(ResolveKeepRemote, err)
	}

	if err := r.store.UpsertFile(ctx, conflict.Path, conflict.RemoteContent); err != nil {
		return failedResolution(ResolveKeepRemote, err)
	}

	return ResolutionResult{
		Success:       true,
		Resolution:    ResolveKeepRemote,
		ResultContent: conflict.RemoteContent,
	}
}

// merge produces a marker-delimited combination of both versions, uploads
// it, and caches it.
func (r *ConflictResolver) merge(ctx context.Context, conflict *FileConflict) ResolutionResult {
	if _, err := r.CreateBackup(ctx, conflict.Path, conflict.LocalContent); err != nil {
		return failedResolution(ResolveMerge, err)
	}

	merged := mergeContents(conflict.LocalContent, conflict.RemoteContent)

	if err := r.backend.UploadFile(ctx, conflict.Path, merged); err != nil {
		return failedResolution(ResolveMerge, err)
	}

	if err := r.store.UpsertFile(ctx, conflict.Path, merged); err != nil {
		return failedResolution(ResolveMerge, err)
	}

	return ResolutionResult{
		Success:       true,
		Resolution:    ResolveMerge,
		ResultContent: merged,
	}
}

// createBoth preserves each existing version under a suffixed path and
// removes the original from both sides. A one-sided create conflict
// yields a single suffixed file; an already-absent remote original is
// not an error.
func (r *ConflictResolver) createBoth(ctx context.Context, conflict *FileConflict) ResolutionResult {
	if _, err := r.CreateBackup(ctx, conflict.Path, conflict.LocalContent); err != nil {
		return failedResolution(ResolveCreateBoth, err)
	}

	var created []string

	if conflict.LocalContent != nil {
		localPath := conflict.Path + "_local"

		if err := r.backend.UploadFile(ctx, localPath, conflict.LocalContent); err != nil {
			return failedResolution(ResolveCreateBoth, err)
		}

		if err := r.store.UpsertFile(ctx, localPath, conflict.LocalContent); err != nil {
			return failedResolution(ResolveCreateBoth, err)
		}

		created = append(created, localPath)
	}

	if conflict.RemoteContent != nil {
		remotePath := conflict.Path + "_remote"

		if err := r.backend.UploadFile(ctx, remotePath, conflict.RemoteContent); err != nil {
			return failedResolution(ResolveCreateBoth, err)
		}

		if err := r.store.UpsertFile(ctx, remotePath, conflict.RemoteContent); err != nil {
			return failedResolution(ResolveCreateBoth, err)
		}

		created = append(created, remotePath)
	}

	if err := r.backend.DeleteFile(ctx, conflict.Path); err != nil && !errors.Is(err, ErrRemoteNotFound) {
		return failedResolution(ResolveCreateBoth, err)
	}

	if err := r.store.DeleteFile(ctx, conflict.Path); err != nil {
		return failedResolution(ResolveCreateBoth, err)
	}

	return ResolutionResult{
		Success:      true,
		Resolution:   ResolveCreateBoth,
		CreatedFiles: created,
	}
}

// mergeContents joins both versions line-wise between git-style markers:
// local lines above the separator, remote lines below.
func mergeContents(local, remote []byte) []byte {
	var b bytes.Buffer

	b.WriteString(mergeMarkerLocal)
	b.WriteByte('\n')
	b.Write(local)

	if len(local) > 0 && local[len(local)-1] != '\n' {
		b.WriteByte('\n')
	}

	b.WriteString(mergeMarkerSeparator)
	b.WriteByte('\n')
	b.Write(remote)

	if len(remote) > 0 && remote[len(remote)-1] != '\n' {
		b.WriteByte('\n')
	}

	b.WriteString(mergeMarkerRemote)
	b.WriteByte('\n')

	return b.Bytes()
}

// CreateBackup stores a timestamped shadow copy of content for path.
func (r *ConflictResolver) CreateBackup(ctx context.Context, path string, content []byte) (*Backup, error) {
	b := &Backup{
		ID:        uuid.NewString(),
		Path:      path,
		Content:   content,
		CreatedAt: NowNano(),
	}

	if err := r.store.SaveBackup(ctx, b); err != nil {
		return nil, err
	}

	return b, nil
}

// RestoreBackup writes the most recent backup for path back into the
// cache and returns it. Errors with a sync-kind error when no backup
// exists.
func (r *ConflictResolver) RestoreBackup(ctx context.Context, path string) (*Backup, error) {
	backups, err := r.store.BackupsForPath(ctx, path)
	if err != nil {
		return nil, err
	}

	if len(backups) == 0 {
		return nil, syncErr("no_backup", fmt.Sprintf("no backup recorded for %q", path), nil)
	}

	latest := backups[0]

	if err := r.store.UpsertFile(ctx, path, latest.Content); err != nil {
		return nil, err
	}

	r.logger.Info("backup restored", "path", path, "backup_id", latest.ID)

	return latest, nil
}

// CleanupBackups purges backups older than olderThan. Returns the number
// removed.
func (r *ConflictResolver) CleanupBackups(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := NowNano() - olderThan.Nanoseconds()

	return r.store.DeleteBackupsBefore(ctx, cutoff)
}

func failedResolution(resolution Resolution, err error) ResolutionResult {
	return ResolutionResult{Success: false, Resolution: resolution, Err: err}
}
