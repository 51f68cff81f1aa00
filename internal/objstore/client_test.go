package objstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/notesync/internal/sync"
)

// fakeNetError satisfies net.Error for classification tests.
type fakeNetError struct{ msg string }

func (e *fakeNetError) Error() string   { return e.msg }
func (e *fakeNetError) Timeout() bool   { return true }
func (e *fakeNetError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	t.Run("nil passes through", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, classify("noop", nil))
	})

	t.Run("missing key becomes not-found sentinel", func(t *testing.T) {
		t.Parallel()

		for _, code := range []string{"NoSuchKey", "NoSuchObject"} {
			err := classify("stat a.md", minio.ErrorResponse{Code: code, Message: "gone"})
			assert.ErrorIs(t, err, sync.ErrRemoteNotFound)
		}
	})

	t.Run("other server responses are storage errors", func(t *testing.T) {
		t.Parallel()

		err := classify("upload a.md", minio.ErrorResponse{Code: "AccessDenied", Message: "denied"})
		assert.Equal(t, sync.KindStorage, sync.KindOf(err))
	})

	t.Run("transport failures are network errors", func(t *testing.T) {
		t.Parallel()

		err := classify("dial", &fakeNetError{msg: "connection refused"})
		assert.Equal(t, sync.KindNetwork, sync.KindOf(err))

		err = classify("upload a.md", fmt.Errorf("put object: %w", context.DeadlineExceeded))
		assert.Equal(t, sync.KindNetwork, sync.KindOf(err))
	})

	t.Run("wrapped responses still classify", func(t *testing.T) {
		t.Parallel()

		wrapped := fmt.Errorf("stat object: %w", minio.ErrorResponse{Code: "NoSuchKey"})
		assert.ErrorIs(t, classify("stat a.md", wrapped), sync.ErrRemoteNotFound)
	})

	t.Run("anything else is a storage error", func(t *testing.T) {
		t.Parallel()

		err := classify("read body", errors.New("unexpected EOF"))
		assert.Equal(t, sync.KindStorage, sync.KindOf(err))
	})
}

func TestKeyMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		prefix string
		path   string
		key    string
	}{
		{"no prefix", "", "a.md", "a.md"},
		{"no prefix nested", "", "journal/day1.md", "journal/day1.md"},
		{"with prefix", "notes", "a.md", "notes/a.md"},
		{"trailing slash prefix", "notes/", "a.md", "notes/a.md"},
		{"leading slash path", "notes", "/a.md", "notes/a.md"},
		{"nested prefix", "team/alice", "journal/day1.md", "team/alice/journal/day1.md"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := &Client{prefix: tc.prefix}

			key := c.key(tc.path)
			require.Equal(t, tc.key, key)

			// Round trip back to a note path.
			assert.Equal(t, strings.TrimPrefix(tc.path, "/"), c.path(key))
		})
	}
}

func TestNew_RejectsIncompleteOptions(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Options{Bucket: "notes"}, nil)
	assert.Error(t, err)

	_, err = New(context.Background(), Options{Endpoint: "localhost:9000"}, nil)
	assert.Error(t, err)
}
