package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishFansOut(t *testing.T) {
	t.Parallel()

	hub := NewHub[int](testLogger(t))
	defer hub.Close()

	a, cancelA := hub.Subscribe()
	defer cancelA()

	b, cancelB := hub.Subscribe()
	defer cancelB()

	require.Equal(t, 2, hub.Len())

	hub.Publish(7)

	assert.Equal(t, 7, <-a)
	assert.Equal(t, 7, <-b)
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	hub := NewHub[string](testLogger(t))
	defer hub.Close()

	ch, cancel := hub.Subscribe()
	cancel()

	assert.Equal(t, 0, hub.Len())

	hub.Publish("lost")

	// Cancel closed the channel; nothing was delivered.
	_, ok := <-ch
	assert.False(t, ok)

	// Cancelling twice is harmless.
	cancel()
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	t.Parallel()

	hub := NewHub[int](testLogger(t))
	defer hub.Close()

	ch, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish(i)
	}

	// The buffer holds the first events; the overflow was dropped, never
	// blocked on.
	for i := 0; i < subscriberBuffer; i++ {
		assert.Equal(t, i, <-ch)
	}

	select {
	case v := <-ch:
		t.Fatalf("unexpected buffered event %d", v)
	default:
	}
}

func TestHub_Close(t *testing.T) {
	t.Parallel()

	hub := NewHub[int](testLogger(t))

	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Close()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Len())

	// Publish and a second Close are no-ops after Close.
	hub.Publish(1)
	hub.Close()

	// Subscribing after Close yields an already-closed channel.
	late, lateCancel := hub.Subscribe()
	defer lateCancel()

	_, ok = <-late
	assert.False(t, ok)
}
