package sync

import (
	"context"
	"strconv"
)

// Settings keys for cumulative sync statistics. Stored individually so a
// partial write never corrupts the whole record.
const (
	statTotalSyncs      = "stats.total_syncs"
	statSuccessfulSyncs = "stats.successful_syncs"
	statFailedSyncs     = "stats.failed_syncs"
	statLastSyncAt      = "stats.last_sync_at"
	statLastError       = "stats.last_error"
)

// SyncStats is the cumulative record of sync passes, persisted in the
// settings table so it survives service re-creation.
type SyncStats struct {
	TotalSyncs      int64
	SuccessfulSyncs int64
	FailedSyncs     int64
	LastSyncAt      int64 // Unix nanoseconds, 0 when never synced
	LastError       string
}

// SuccessRate returns successful syncs over total, 0 when nothing ran.
func (s SyncStats) SuccessRate() float64 {
	if s.TotalSyncs == 0 {
		return 0
	}

	return float64(s.SuccessfulSyncs) / float64(s.TotalSyncs)
}

// loadStats reads the persisted statistics; missing keys read as zero.
func loadStats(ctx context.Context, store Store) (SyncStats, error) {
	values, err := store.SettingsWithPrefix(ctx, "stats.")
	if err != nil {
		return SyncStats{}, err
	}

	stats := SyncStats{LastError: values[statLastError]}

	stats.TotalSyncs = parseCounter(values[statTotalSyncs])
	stats.SuccessfulSyncs = parseCounter(values[statSuccessfulSyncs])
	stats.FailedSyncs = parseCounter(values[statFailedSyncs])
	stats.LastSyncAt = parseCounter(values[statLastSyncAt])

	return stats, nil
}

// recordSyncOutcome bumps the counters for one finished pass. syncErr is
// nil on success.
func recordSyncOutcome(ctx context.Context, store Store, outcome error) error {
	stats, err := loadStats(ctx, store)
	if err != nil {
		return err
	}

	stats.TotalSyncs++
	stats.LastSyncAt = NowNano()

	if outcome == nil {
		stats.SuccessfulSyncs++
		stats.LastError = ""
	} else {
		stats.FailedSyncs++
		stats.LastError = outcome.Error()
	}

	return saveStats(ctx, store, stats)
}

func saveStats(ctx context.Context, store Store, stats SyncStats) error {
	pairs := map[string]string{
		statTotalSyncs:      strconv.FormatInt(stats.TotalSyncs, 10),
		statSuccessfulSyncs: strconv.FormatInt(stats.SuccessfulSyncs, 10),
		statFailedSyncs:     strconv.FormatInt(stats.FailedSyncs, 10),
		statLastSyncAt:      strconv.FormatInt(stats.LastSyncAt, 10),
		statLastError:       stats.LastError,
	}

	for key, value := range pairs {
		if err := store.SetSetting(ctx, key, value); err != nil {
			return err
		}
	}

	return nil
}

// parseCounter reads a persisted integer, treating absent or mangled
// values as zero rather than failing a sync over a statistics row.
func parseCounter(s string) int64 {
	if s == "" {
		return 0
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}

	return n
}
