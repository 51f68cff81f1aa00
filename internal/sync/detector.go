package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// severityGapThreshold is the modification-time divergence beyond which a
// content conflict's severity is raised one level: the longer both sides
// drifted apart, the riskier an automatic pick becomes.
const severityGapThreshold = 24 * time.Hour

// ConflictDetector classifies divergence between cached files and their
// remote counterparts. It never mutates state.
type ConflictDetector struct {
	store   Store
	backend Backend
	logger  *slog.Logger
}

// NewConflictDetector builds a detector over the given store and backend.
func NewConflictDetector(store Store, backend Backend, logger *slog.Logger) *ConflictDetector {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConflictDetector{store: store, backend: backend, logger: logger}
}

// DetectFileConflict classifies a single path. Returns nil when local and
// remote agree byte for byte. Classification order: remote gone while
// local exists is a delete conflict; equal bytes is no conflict;
// near-identical text is a timestamp conflict; anything else is a
// content conflict.
func (d *ConflictDetector) DetectFileConflict(ctx context.Context, path string) (*DetectionResult, error) {
	local, err := d.store.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}

	remote, err := d.backend.DownloadFile(ctx, path)

	if errors.Is(err, ErrRemoteNotFound) {
		if local == nil {
			return nil, nil
		}

		d.logger.Info("delete conflict detected", "path", path)

		return d.deleteConflict(path, local), nil
	}

	if err != nil {
		return nil, err
	}

	if local == nil {
		return d.createConflict(path, nil, remote), nil
	}

	if bytes.Equal(local.Content, remote) {
		return nil, nil
	}

	score := similarity(local.Content, remote)
	conflict := &FileConflict{
		Path:          path,
		LocalModified: local.CachedAt,
		LocalContent:  local.Content,
		RemoteContent: remote,
	}

	if score >= nearIdenticalThreshold {
		d.logger.Info("timestamp conflict detected", "path", path, "similarity", score)

		return &DetectionResult{
			Path:           path,
			Type:           ConflictTimestamp,
			Severity:       SeverityLow,
			Conflict:       conflict,
			Description:    fmt.Sprintf("versions of %s differ only cosmetically", path),
			AutoResolution: d.AutoResolution(ConflictTimestamp, SeverityLow),
		}, nil
	}

	sev := contentSeverity(score, conflict.LocalModified, conflict.RemoteModified)

	d.logger.Info("content conflict detected",
		"path", path, "similarity", score, "severity", sev)

	return &DetectionResult{
		Path:        path,
		Type:        ConflictContent,
		Severity:    sev,
		Conflict:    conflict,
		Description: fmt.Sprintf("local and remote versions of %s diverged (similarity %.0f%%)", path, score*100),
	}, nil
}

// DetectConflicts batches single-file checks, skipping conflict-free
// paths. Cancellation is checked between files; already-collected
// results are returned alongside the cancellation error.
func (d *ConflictDetector) DetectConflicts(ctx context.Context, paths []string) ([]DetectionResult, error) {
	var results []DetectionResult

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return results, cancelledErr("conflict detection cancelled", err)
		}

		res, err := d.DetectFileConflict(ctx, path)
		if err != nil {
			return results, err
		}

		if res != nil {
			results = append(results, *res)
		}
	}

	return results, nil
}

// DetectAllConflicts unions locally-cached and remotely-listed paths.
// Paths present on both sides go through content classification; paths
// on one side only are flagged as create conflicts.
func (d *ConflictDetector) DetectAllConflicts(ctx context.Context) ([]DetectionResult, error) {
	localPaths, err := d.store.ListFilePaths(ctx)
	if err != nil {
		return nil, err
	}

	remotePaths, err := d.backend.ListFiles(ctx, "")
	if err != nil {
		return nil, err
	}

	remoteSet := make(map[string]bool, len(remotePaths))
	for _, p := range remotePaths {
		remoteSet[p] = true
	}

	localSet := make(map[string]bool, len(localPaths))
	for _, p := range localPaths {
		localSet[p] = true
	}

	var both, localOnly []string

	for _, p := range localPaths {
		if remoteSet[p] {
			both = append(both, p)
		} else {
			localOnly = append(localOnly, p)
		}
	}

	var remoteOnly []string

	for _, p := range remotePaths {
		if !localSet[p] {
			remoteOnly = append(remoteOnly, p)
		}
	}

	sort.Strings(both)

	results, err := d.DetectConflicts(ctx, both)
	if err != nil {
		return results, err
	}

	for _, p := range localOnly {
		if err := ctx.Err(); err != nil {
			return results, cancelledErr("conflict detection cancelled", err)
		}

		local, err := d.store.GetFile(ctx, p)
		if err != nil {
			return results, err
		}

		var content []byte
		if local != nil {
			content = local.Content
		}

		results = append(results, *d.createConflict(p, content, nil))
	}

	for _, p := range remoteOnly {
		if err := ctx.Err(); err != nil {
			return results, cancelledErr("conflict detection cancelled", err)
		}

		remote, err := d.backend.DownloadFile(ctx, p)
		if err != nil && !errors.Is(err, ErrRemoteNotFound) {
			return results, err
		}

		results = append(results, *d.createConflict(p, nil, remote))
	}

	d.logger.Info("conflict scan complete",
		"checked", len(both)+len(localOnly)+len(remoteOnly), "conflicts", len(results))

	return results, nil
}

// SuggestedResolutions returns the ordered candidate strategies for a
// conflict type, safest-default first.
func (d *ConflictDetector) SuggestedResolutions(t ConflictType) []Resolution {
	switch t {
	case ConflictContent:
		return []Resolution{ResolveMerge, ResolveKeepLocal, ResolveKeepRemote, ResolveCreateBoth}
	case ConflictTimestamp:
		return []Resolution{ResolveKeepLocal, ResolveKeepRemote}
	case ConflictCreate:
		return []Resolution{ResolveCreateBoth, ResolveKeepLocal, ResolveKeepRemote}
	case ConflictDelete:
		return []Resolution{ResolveKeepLocal, ResolveKeepRemote}
	default:
		return nil
	}
}

// AutoResolution returns the safe default strategy for low-severity
// conflicts, nil for anything riskier. High and critical conflicts are
// never auto-resolved.
func (d *ConflictDetector) AutoResolution(t ConflictType, sev Severity) *Resolution {
	if sev != SeverityLow {
		return nil
	}

	var r Resolution

	switch t {
	case ConflictTimestamp:
		r = ResolveKeepLocal
	case ConflictCreate:
		r = ResolveCreateBoth
	default:
		return nil
	}

	return &r
}

func (d *ConflictDetector) deleteConflict(path string, local *CachedFile) *DetectionResult {
	return &DetectionResult{
		Path:     path,
		Type:     ConflictDelete,
		Severity: SeverityHigh,
		Conflict: &FileConflict{
			Path:          path,
			LocalModified: local.CachedAt,
			LocalContent:  local.Content,
		},
		Description: fmt.Sprintf("%s was deleted remotely but still exists locally", path),
	}
}

func (d *ConflictDetector) createConflict(path string, localContent, remoteContent []byte) *DetectionResult {
	side := "locally"
	if localContent == nil {
		side = "remotely"
	}

	return &DetectionResult{
		Path:     path,
		Type:     ConflictCreate,
		Severity: SeverityLow,
		Conflict: &FileConflict{
			Path:          path,
			LocalContent:  localContent,
			RemoteContent: remoteContent,
		},
		Description:    fmt.Sprintf("%s exists only %s", path, side),
		AutoResolution: d.AutoResolution(ConflictCreate, SeverityLow),
	}
}

// contentSeverity grades a content conflict: base level from the
// similarity score, raised one level when the modification timestamps
// diverge by more than severityGapThreshold (unknown remote timestamps
// never raise).
func contentSeverity(score float64, localMod, remoteMod int64) Severity {
	var sev Severity

	switch {
	case score >= moderateThreshold:
		sev = SeverityMedium
	case score >= lowThreshold:
		sev = SeverityHigh
	default:
		sev = SeverityCritical
	}

	if remoteMod == 0 || localMod == 0 {
		return sev
	}

	gap := localMod - remoteMod
	if gap < 0 {
		gap = -gap
	}

	if time.Duration(gap) > severityGapThreshold {
		sev = raiseSeverity(sev)
	}

	return sev
}

func raiseSeverity(s Severity) Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}
