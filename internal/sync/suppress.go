package sync

import (
	"log/slog"
	stdsync "sync"
	"time"
)

// Suppression bounds for watch mode: a path failing this often within
// the cooldown window is skipped until the window passes or a success
// clears it.
const (
	suppressThreshold = 3
	suppressCooldown  = 30 * time.Minute
)

type suppressRecord struct {
	count   int
	lastErr string
	lastAt  time.Time
}

// suppressor skips paths that keep failing in watch mode so one broken
// file cannot monopolize the sync loop. Thread-safe.
type suppressor struct {
	mu      stdsync.Mutex
	records map[string]*suppressRecord
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for testing
}

func newSuppressor(logger *slog.Logger) *suppressor {
	return &suppressor{
		records: make(map[string]*suppressRecord),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// shouldSkip reports whether path has failed enough times within the
// cooldown window to be suppressed.
func (s *suppressor) shouldSkip(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[path]
	if !ok {
		return false
	}

	// Forget stale failures.
	if s.nowFunc().Sub(rec.lastAt) > suppressCooldown {
		delete(s.records, path)
		return false
	}

	if rec.count >= suppressThreshold {
		s.logger.Warn("path suppressed after repeated failures",
			"path", path, "failures", rec.count, "last_error", rec.lastErr)
		return true
	}

	return false
}

// recordFailure notes a failed sync attempt for path.
func (s *suppressor) recordFailure(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[path]
	if !ok {
		rec = &suppressRecord{}
		s.records[path] = rec
	}

	// Reset the count when the previous failure is older than the cooldown.
	if s.nowFunc().Sub(rec.lastAt) > suppressCooldown {
		rec.count = 0
	}

	rec.count++
	rec.lastAt = s.nowFunc()

	if err != nil {
		rec.lastErr = err.Error()
	}
}

// recordSuccess clears any failure record for path.
func (s *suppressor) recordSuccess(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, path)
}
