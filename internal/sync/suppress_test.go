package sync

import (
	"errors"
	"testing"
	"time"
)

func TestSuppressor_SkipsAfterThreshold(t *testing.T) {
	t.Parallel()

	s := newSuppressor(testLogger(t))

	for i := 0; i < suppressThreshold-1; i++ {
		if s.shouldSkip("a.md") {
			t.Fatalf("suppressed after %d failures", i)
		}

		s.recordFailure("a.md", errors.New("upload failed"))
	}

	if s.shouldSkip("a.md") {
		t.Fatal("suppressed one failure early")
	}

	s.recordFailure("a.md", errors.New("upload failed"))

	if !s.shouldSkip("a.md") {
		t.Fatalf("not suppressed after %d failures", suppressThreshold)
	}

	// Other paths are unaffected.
	if s.shouldSkip("b.md") {
		t.Fatal("unrelated path suppressed")
	}
}

func TestSuppressor_SuccessClears(t *testing.T) {
	t.Parallel()

	s := newSuppressor(testLogger(t))

	for i := 0; i < suppressThreshold; i++ {
		s.recordFailure("a.md", errors.New("boom"))
	}

	if !s.shouldSkip("a.md") {
		t.Fatal("expected suppression")
	}

	s.recordSuccess("a.md")

	if s.shouldSkip("a.md") {
		t.Fatal("suppression survived a success")
	}
}

func TestSuppressor_CooldownExpires(t *testing.T) {
	t.Parallel()

	s := newSuppressor(testLogger(t))

	now := time.Now()
	s.nowFunc = func() time.Time { return now }

	for i := 0; i < suppressThreshold; i++ {
		s.recordFailure("a.md", errors.New("boom"))
	}

	if !s.shouldSkip("a.md") {
		t.Fatal("expected suppression")
	}

	// Step past the cooldown: the record is forgotten.
	now = now.Add(suppressCooldown + time.Minute)

	if s.shouldSkip("a.md") {
		t.Fatal("suppression survived the cooldown")
	}

	// A failure after the window starts a fresh count.
	s.recordFailure("a.md", errors.New("boom"))

	if s.shouldSkip("a.md") {
		t.Fatal("single fresh failure suppressed")
	}
}
