package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats_RecordOutcomes(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	stats, err := loadStats(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{}, stats)
	assert.Zero(t, stats.SuccessRate())

	require.NoError(t, recordSyncOutcome(ctx, store, nil))
	require.NoError(t, recordSyncOutcome(ctx, store, nil))
	require.NoError(t, recordSyncOutcome(ctx, store, errors.New("remote unreachable")))

	stats, err = loadStats(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalSyncs)
	assert.Equal(t, int64(2), stats.SuccessfulSyncs)
	assert.Equal(t, int64(1), stats.FailedSyncs)
	assert.Equal(t, "remote unreachable", stats.LastError)
	assert.Positive(t, stats.LastSyncAt)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate(), 1e-9)

	// A success clears the last error.
	require.NoError(t, recordSyncOutcome(ctx, store, nil))

	stats, err = loadStats(ctx, store)
	require.NoError(t, err)
	assert.Empty(t, stats.LastError)
}

func TestStats_MalformedCountersReadAsZero(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetSetting(ctx, statTotalSyncs, "not-a-number"))
	require.NoError(t, store.SetSetting(ctx, statSuccessfulSyncs, "5"))

	stats, err := loadStats(ctx, store)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalSyncs)
	assert.Equal(t, int64(5), stats.SuccessfulSyncs)
}

func TestParseCounter(t *testing.T) {
	t.Parallel()

	cases := map[string]int64{
		"":     0,
		"0":    0,
		"42":   42,
		"-3":   -3,
		"junk": 0,
		"1.5":  0,
	}

	for in, want := range cases {
		assert.Equal(t, want, parseCounter(in), "input %q", in)
	}
}
