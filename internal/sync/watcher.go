package sync

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"
)

// FileListener receives debounced-eligible file-change notifications.
// AutoSyncService is the production implementation.
type FileListener interface {
	OnFileCreated(ctx context.Context, path string)
	OnFileModified(ctx context.Context, path string)
	OnFileDeleted(ctx context.Context, path string)
}

// Watcher observes a notes directory with fsnotify, mirrors disk changes
// into the cache, and forwards them to a FileListener. Paths are
// reported relative to the watched root, slash-separated and
// NFC-normalized so macOS decomposed filenames match their cached keys.
type Watcher struct {
	root     string
	service  *SyncService
	listener FileListener
	logger   *slog.Logger
}

// NewWatcher builds a watcher rooted at dir.
func NewWatcher(dir string, service *SyncService, listener FileListener, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{root: dir, service: service, listener: listener, logger: logger}
}

// Watch blocks, observing the root and all nested directories until the
// context is cancelled. Directories created while watching are added on
// the fly.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return storageErr("create file watcher", err)
	}
	defer fsw.Close()

	if err := w.addRecursive(fsw, w.root); err != nil {
		return err
	}

	w.logger.Info("watching for changes", "root", w.root)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping")
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}

			w.handleEvent(ctx, fsw, ev)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	rel, err := w.relPath(ev.Name)
	if err != nil {
		w.logger.Debug("ignoring event outside root", "name", ev.Name)
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		info, statErr := os.Stat(ev.Name)
		if statErr == nil && info.IsDir() {
			if addErr := w.addRecursive(fsw, ev.Name); addErr != nil {
				w.logger.Warn("could not watch new directory", "path", ev.Name, "error", addErr)
			}

			return
		}

		w.mirrorToCache(ctx, ev.Name, rel)
		w.listener.OnFileCreated(ctx, rel)

	case ev.Op.Has(fsnotify.Write):
		w.mirrorToCache(ctx, ev.Name, rel)
		w.listener.OnFileModified(ctx, rel)

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.mirrorDeletion(ctx, rel)
		w.listener.OnFileDeleted(ctx, rel)
	}
}

// mirrorToCache copies the file's current disk content into the cache
// and queues an upload. Read failures are logged; the listener still
// fires so a later sync pass can reconcile.
func (w *Watcher) mirrorToCache(ctx context.Context, absPath, rel string) {
	content, err := os.ReadFile(absPath)
	if err != nil {
		w.logger.Warn("could not read changed file", "path", absPath, "error", err)
		return
	}

	if err := w.service.SaveLocalFile(ctx, rel, content); err != nil {
		w.logger.Warn("could not cache changed file", "path", rel, "error", err)
	}
}

// mirrorDeletion records the local deletion and queues the remote delete.
func (w *Watcher) mirrorDeletion(ctx context.Context, rel string) {
	cached, err := w.service.store.FileExists(ctx, rel)
	if err != nil {
		w.logger.Warn("could not check cache for deleted file", "path", rel, "error", err)
		return
	}

	if !cached {
		return
	}

	if err := w.service.DeleteLocalFile(ctx, rel); err != nil {
		w.logger.Warn("could not record deletion", "path", rel, "error", err)
	}
}

// addRecursive watches dir and every directory below it.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A directory can vanish mid-walk; skip rather than abort.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return storageErr("walk watch root", err)
		}

		if !d.IsDir() {
			return nil
		}

		if addErr := fsw.Add(path); addErr != nil {
			return storageErr("watch directory "+path, addErr)
		}

		w.logger.Debug("watching directory", "path", path)

		return nil
	})
}

// relPath converts an absolute event path to the root-relative,
// slash-separated, NFC-normalized form used as the cache key.
func (w *Watcher) relPath(absPath string) (string, error) {
	rel, err := filepath.Rel(w.root, absPath)
	if err != nil {
		return "", err
	}

	return norm.NFC.String(filepath.ToSlash(rel)), nil
}
