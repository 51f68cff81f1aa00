package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, autoResolve bool) (*ConflictManager, *testEngine) {
	t.Helper()

	e := newTestEngine(t)
	m := NewConflictManager(e.detector, e.resolver, autoResolve, testLogger(t))

	return m, e
}

func TestManager_ResolveWithoutPendingFails(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, false)

	_, err := m.Resolve(context.Background(), "unknown.md", ResolveKeepLocal)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPendingConflict)
	assert.Equal(t, KindSync, KindOf(err))
}

func TestManager_ReportAndResolve(t *testing.T) {
	t.Parallel()

	m, e := newTestManager(t, false)
	ctx := context.Background()

	require.NoError(t, e.store.UpsertFile(ctx, "a.md", []byte("local")))
	e.backend.put("a.md", []byte("remote"))

	events, unsubscribe := m.Events().Subscribe()
	defer unsubscribe()

	detection, err := e.detector.DetectFileConflict(ctx, "a.md")
	require.NoError(t, err)
	require.NotNil(t, detection)

	m.Report(*detection)

	ev := <-events
	assert.Equal(t, ConflictDetected, ev.Kind)
	assert.Equal(t, "a.md", ev.Path)
	require.NotNil(t, ev.Result)

	pending := m.PendingConflicts()
	require.Len(t, pending, 1)
	assert.Equal(t, "a.md", pending[0].Path)

	result, err := m.Resolve(ctx, "a.md", ResolveKeepLocal)
	require.NoError(t, err)
	assert.True(t, result.Success)

	ev = <-events
	assert.Equal(t, ConflictResolved, ev.Kind)
	assert.Equal(t, ResolveKeepLocal, ev.Resolution)

	assert.Empty(t, m.PendingConflicts())

	history := m.History()
	require.Len(t, history, 1)
	assert.Equal(t, "a.md", history[0].Path)
	assert.Equal(t, ResolveKeepLocal, history[0].Resolution)
	assert.GreaterOrEqual(t, history[0].ResolvedAt, history[0].DetectedAt)

	// Resolving again fails: nothing pending anymore.
	_, err = m.Resolve(ctx, "a.md", ResolveKeepLocal)
	assert.ErrorIs(t, err, ErrNoPendingConflict)
}

func TestManager_FailedResolutionStaysPending(t *testing.T) {
	t.Parallel()

	m, e := newTestManager(t, false)
	ctx := context.Background()

	require.NoError(t, e.store.UpsertFile(ctx, "a.md", []byte("local")))
	e.backend.put("a.md", []byte("remote"))

	detection, err := e.detector.DetectFileConflict(ctx, "a.md")
	require.NoError(t, err)
	m.Report(*detection)

	e.backend.failWith("a.md", networkErr("upload a.md", assert.AnError))

	result, err := m.Resolve(ctx, "a.md", ResolveKeepLocal)
	require.Error(t, err)
	assert.False(t, result.Success)

	// Still pending for another attempt.
	require.Len(t, m.PendingConflicts(), 1)
}

func TestManager_AutoResolvesLowSeverity(t *testing.T) {
	t.Parallel()

	m, e := newTestManager(t, true)
	ctx := context.Background()

	// Near-identical versions: low-severity timestamp conflict with a
	// keep_local default.
	require.NoError(t, e.store.UpsertFile(ctx, "a.md", []byte("same words here, truly!")))
	e.backend.put("a.md", []byte("same words here truly"))

	// Divergent versions stay pending.
	require.NoError(t, e.store.UpsertFile(ctx, "b.md", []byte("totally unrelated local prose")))
	e.backend.put("b.md", []byte("some other remote narrative entirely"))

	remaining, err := m.CheckForConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "b.md", remaining[0].Path)

	// The low-severity conflict was resolved by keeping local.
	remote, _ := e.backend.get("a.md")
	assert.Equal(t, []byte("same words here, truly!"), remote)

	history := m.History()
	require.Len(t, history, 1)
	assert.Equal(t, "a.md", history[0].Path)
}

func TestManager_Dismiss(t *testing.T) {
	t.Parallel()

	m, e := newTestManager(t, false)
	ctx := context.Background()

	require.NoError(t, e.store.UpsertFile(ctx, "a.md", []byte("local")))
	e.backend.put("a.md", []byte("remote"))

	detection, err := e.detector.DetectFileConflict(ctx, "a.md")
	require.NoError(t, err)
	m.Report(*detection)

	require.NoError(t, m.Dismiss("a.md"))
	assert.Empty(t, m.PendingConflicts())
	assert.ErrorIs(t, m.Dismiss("a.md"), ErrNoPendingConflict)
}

func TestManager_HistoryBounded(t *testing.T) {
	t.Parallel()

	m, e := newTestManager(t, false)
	m.historyLimit = 3

	ctx := context.Background()

	for _, path := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, e.store.UpsertFile(ctx, path, []byte("local "+path)))
		e.backend.put(path, []byte("remote "+path))

		detection, err := e.detector.DetectFileConflict(ctx, path)
		require.NoError(t, err)
		require.NotNil(t, detection)
		m.Report(*detection)

		_, err = m.Resolve(ctx, path, ResolveKeepLocal)
		require.NoError(t, err)
	}

	history := m.History()
	require.Len(t, history, 3)

	// Newest first.
	assert.Equal(t, "e", history[0].Path)
	assert.Equal(t, "d", history[1].Path)
	assert.Equal(t, "c", history[2].Path)
}
