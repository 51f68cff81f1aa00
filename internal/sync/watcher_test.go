package sync

import (
	"context"
	"os"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingListener captures watcher notifications for assertions.
type recordingListener struct {
	mu       stdsync.Mutex
	created  []string
	modified []string
	deleted  []string
}

func (l *recordingListener) OnFileCreated(_ context.Context, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.created = append(l.created, path)
}

func (l *recordingListener) OnFileModified(_ context.Context, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.modified = append(l.modified, path)
}

func (l *recordingListener) OnFileDeleted(_ context.Context, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.deleted = append(l.deleted, path)
}

func (l *recordingListener) saw(kind, path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	var events []string

	switch kind {
	case "created":
		events = l.created
	case "modified":
		events = l.modified
	case "deleted":
		events = l.deleted
	}

	for _, p := range events {
		if p == path {
			return true
		}
	}

	return false
}

func startWatcher(t *testing.T, e *testEngine, listener FileListener) string {
	t.Helper()

	dir := t.TempDir()
	watcher := NewWatcher(dir, e.service, listener, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- watcher.Watch(ctx) }()

	t.Cleanup(func() {
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})

	// Give the watcher a moment to register the root before events fly.
	time.Sleep(50 * time.Millisecond)

	return dir
}

func TestWatcher_MirrorsDiskChanges(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	listener := &recordingListener{}
	dir := startWatcher(t, e, listener)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("hello"), 0o644))

	require.Eventually(t, func() bool {
		file, err := e.store.GetFile(ctx, "a.md")
		return err == nil && file != nil && string(file.Content) == "hello"
	}, 3*time.Second, 10*time.Millisecond)

	assert.True(t, listener.saw("created", "a.md"))

	require.NoError(t, os.Remove(filepath.Join(dir, "a.md")))

	require.Eventually(t, func() bool {
		exists, err := e.store.FileExists(ctx, "a.md")
		return err == nil && !exists
	}, 3*time.Second, 10*time.Millisecond)

	assert.True(t, listener.saw("deleted", "a.md"))

	// The deletion left a tombstone for the next sync pass.
	tombstoned, err := e.service.TombstonedPaths(ctx)
	require.NoError(t, err)
	assert.Contains(t, tombstoned, "a.md")
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	listener := &recordingListener{}
	dir := startWatcher(t, e, listener)
	ctx := context.Background()

	sub := filepath.Join(dir, "journal")
	require.NoError(t, os.Mkdir(sub, 0o755))

	// Let the watcher pick up the new directory before writing into it.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "day1.md"), []byte("entry"), 0o644))

	require.Eventually(t, func() bool {
		file, err := e.store.GetFile(ctx, "journal/day1.md")
		return err == nil && file != nil
	}, 3*time.Second, 10*time.Millisecond)

	assert.True(t, listener.saw("created", "journal/day1.md"))
}

func TestWatcher_RelPathNormalizes(t *testing.T) {
	t.Parallel()

	w := &Watcher{root: filepath.Join("/", "notes")}

	rel, err := w.relPath(filepath.Join("/", "notes", "sub", "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "sub/a.md", rel)

	// Decomposed "é" (e + combining acute) collapses to the precomposed
	// form, so macOS filenames match their cached keys.
	rel, err = w.relPath(filepath.Join("/", "notes", "café.md"))
	require.NoError(t, err)
	assert.Equal(t, "café.md", rel)
}
