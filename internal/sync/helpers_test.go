package sync

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	stdsync "sync"
	"testing"
)

// testLogger returns a debug-level logger that writes to t.Log,
// so all activity appears in CI output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// newTestStore creates an in-memory store with migrations applied.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewStore(":memory:", testLogger(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	t.Cleanup(func() { store.Close() })

	return store
}

// newTestQueue creates a queue with the default policy on a fresh store.
func newTestQueue(t *testing.T) (*OperationQueue, *SQLiteStore) {
	t.Helper()

	store := newTestStore(t)

	queue, err := NewOperationQueue(store, nil, testLogger(t))
	if err != nil {
		t.Fatalf("NewOperationQueue: %v", err)
	}

	t.Cleanup(func() { queue.Close() })

	return queue, store
}

// fakeBackend is an in-memory Backend with per-path error injection and
// call recording.
type fakeBackend struct {
	mu      stdsync.Mutex
	objects map[string][]byte
	errs    map[string]error // injected, keyed by path; applies to every op
	uploads []string         // record of UploadFile calls in order
	deletes []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		objects: make(map[string][]byte),
		errs:    make(map[string]error),
	}
}

func (f *fakeBackend) put(path string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.objects[path] = content
}

func (f *fakeBackend) get(path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	content, ok := f.objects[path]

	return content, ok
}

func (f *fakeBackend) failWith(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.errs[path] = err
}

func (f *fakeBackend) uploadCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0

	for _, p := range f.uploads {
		if p == path {
			count++
		}
	}

	return count
}

func (f *fakeBackend) UploadFile(_ context.Context, path string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.errs[path]; err != nil {
		return err
	}

	f.objects[path] = append([]byte(nil), content...)
	f.uploads = append(f.uploads, path)

	return nil
}

func (f *fakeBackend) DownloadFile(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.errs[path]; err != nil {
		return nil, err
	}

	content, ok := f.objects[path]
	if !ok {
		return nil, ErrRemoteNotFound
	}

	return append([]byte(nil), content...), nil
}

func (f *fakeBackend) DeleteFile(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.errs[path]; err != nil {
		return err
	}

	if _, ok := f.objects[path]; !ok {
		return ErrRemoteNotFound
	}

	delete(f.objects, path)
	f.deletes = append(f.deletes, path)

	return nil
}

func (f *fakeBackend) FileExists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.errs[path]; err != nil {
		return false, err
	}

	_, ok := f.objects[path]

	return ok, nil
}

func (f *fakeBackend) ListFiles(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var paths []string

	for path := range f.objects {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}

	sort.Strings(paths)

	return paths, nil
}

func (f *fakeBackend) ListFolders(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[string]bool)

	for path := range f.objects {
		if !strings.HasPrefix(path, prefix) {
			continue
		}

		if i := strings.LastIndex(path, "/"); i > 0 {
			seen[path[:i]] = true
		}
	}

	folders := make([]string, 0, len(seen))
	for folder := range seen {
		folders = append(folders, folder)
	}

	sort.Strings(folders)

	return folders, nil
}

// testEngine bundles a fully wired engine over a fake backend.
type testEngine struct {
	store    *SQLiteStore
	queue    *OperationQueue
	backend  *fakeBackend
	detector *ConflictDetector
	resolver *ConflictResolver
	service  *SyncService
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	queue, store := newTestQueue(t)
	backend := newFakeBackend()
	logger := testLogger(t)

	detector := NewConflictDetector(store, backend, logger)
	resolver := NewConflictResolver(store, backend, logger)
	service := NewSyncService(store, queue, detector, resolver, backend, 2, logger)

	return &testEngine{
		store:    store,
		queue:    queue,
		backend:  backend,
		detector: detector,
		resolver: resolver,
		service:  service,
	}
}
