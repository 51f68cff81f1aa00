package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetector_NoConflictWhenEqual(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.store.UpsertFile(ctx, "a.md", []byte("same content")))
	e.backend.put("a.md", []byte("same content"))

	res, err := e.detector.DetectFileConflict(ctx, "a.md")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestDetector_DeleteConflict(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.store.UpsertFile(ctx, "a.md", []byte("local only")))

	res, err := e.detector.DetectFileConflict(ctx, "a.md")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, ConflictDelete, res.Type)
	assert.Equal(t, SeverityHigh, res.Severity)
	assert.Nil(t, res.AutoResolution)
	assert.Equal(t, []byte("local only"), res.Conflict.LocalContent)
}

func TestDetector_TimestampConflictWhenNearIdentical(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	// Only whitespace and punctuation differ.
	require.NoError(t, e.store.UpsertFile(ctx, "a.md", []byte("Hello, world. This is a note about cats and dogs!")))
	e.backend.put("a.md", []byte("Hello world  this is a note about cats and dogs"))

	res, err := e.detector.DetectFileConflict(ctx, "a.md")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, ConflictTimestamp, res.Type)
	assert.Equal(t, SeverityLow, res.Severity)
	require.NotNil(t, res.AutoResolution)
	assert.Equal(t, ResolveKeepLocal, *res.AutoResolution)
}

func TestDetector_ContentConflictWhenDiverged(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.store.UpsertFile(ctx, "a.md", []byte("completely different local text")))
	e.backend.put("a.md", []byte("nothing shared whatsoever here friend"))

	res, err := e.detector.DetectFileConflict(ctx, "a.md")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, ConflictContent, res.Type)
	assert.Equal(t, SeverityCritical, res.Severity)
	assert.Nil(t, res.AutoResolution, "high-risk conflicts must never auto-resolve")

	// Both literal contents travel with the conflict.
	assert.Equal(t, []byte("completely different local text"), res.Conflict.LocalContent)
	assert.Equal(t, []byte("nothing shared whatsoever here friend"), res.Conflict.RemoteContent)
}

func TestDetector_MissingBothSidesIsNoConflict(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)

	res, err := e.detector.DetectFileConflict(context.Background(), "ghost.md")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestDetector_DetectAllConflictsFlagsOneSidedPaths(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.store.UpsertFile(ctx, "local-only.md", []byte("mine")))
	e.backend.put("remote-only.md", []byte("theirs"))
	require.NoError(t, e.store.UpsertFile(ctx, "both.md", []byte("same")))
	e.backend.put("both.md", []byte("same"))

	results, err := e.detector.DetectAllConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byPath := make(map[string]DetectionResult, len(results))
	for _, r := range results {
		byPath[r.Path] = r
	}

	localOnly := byPath["local-only.md"]
	assert.Equal(t, ConflictCreate, localOnly.Type)
	assert.Equal(t, SeverityLow, localOnly.Severity)
	require.NotNil(t, localOnly.AutoResolution)
	assert.Equal(t, ResolveCreateBoth, *localOnly.AutoResolution)
	assert.Equal(t, []byte("mine"), localOnly.Conflict.LocalContent)

	remoteOnly := byPath["remote-only.md"]
	assert.Equal(t, ConflictCreate, remoteOnly.Type)
	assert.Equal(t, []byte("theirs"), remoteOnly.Conflict.RemoteContent)
}

func TestDetector_DetectConflictsCancellation(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.detector.DetectConflicts(ctx, []string{"a.md", "b.md"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestDetector_SuggestedResolutions(t *testing.T) {
	t.Parallel()

	d := NewConflictDetector(nil, nil, testLogger(t))

	assert.Equal(t,
		[]Resolution{ResolveMerge, ResolveKeepLocal, ResolveKeepRemote, ResolveCreateBoth},
		d.SuggestedResolutions(ConflictContent))
	assert.Equal(t,
		[]Resolution{ResolveKeepLocal, ResolveKeepRemote},
		d.SuggestedResolutions(ConflictTimestamp))
	assert.Equal(t, ResolveCreateBoth, d.SuggestedResolutions(ConflictCreate)[0])
}

func TestDetector_AutoResolutionOnlyForLowSeverity(t *testing.T) {
	t.Parallel()

	d := NewConflictDetector(nil, nil, testLogger(t))

	for _, sev := range []Severity{SeverityMedium, SeverityHigh, SeverityCritical} {
		assert.Nil(t, d.AutoResolution(ConflictTimestamp, sev), "severity %s", sev)
		assert.Nil(t, d.AutoResolution(ConflictCreate, sev), "severity %s", sev)
	}

	assert.NotNil(t, d.AutoResolution(ConflictTimestamp, SeverityLow))
	assert.Nil(t, d.AutoResolution(ConflictContent, SeverityLow),
		"content conflicts have no safe default even at low severity")
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "the quick brown fox", "the quick brown fox", 1.0, 1.0},
		{"punctuation only", "Hello, world!", "hello world", 1.0, 1.0},
		{"both empty", "", "", 1.0, 1.0},
		{"one empty", "words here", "", 0.0, 0.0},
		{"disjoint", "alpha beta gamma", "delta epsilon zeta", 0.0, 0.0},
		{"partial overlap", "one two three four", "one two five six", 0.4, 0.6},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := similarity([]byte(tc.a), []byte(tc.b))
			if got < tc.min || got > tc.max {
				t.Errorf("similarity(%q, %q) = %.2f, want in [%.2f, %.2f]", tc.a, tc.b, got, tc.min, tc.max)
			}
		})
	}
}

func TestContentSeverityRaisedByTimestampGap(t *testing.T) {
	t.Parallel()

	now := NowNano()

	// Same similarity score, different timestamp gaps.
	base := contentSeverity(0.8, now, now)
	raised := contentSeverity(0.8, now, now-(48*3600*1_000_000_000))

	assert.Equal(t, SeverityMedium, base)
	assert.Equal(t, SeverityHigh, raised)

	// Unknown remote timestamp never raises.
	assert.Equal(t, SeverityMedium, contentSeverity(0.8, now, 0))
}
