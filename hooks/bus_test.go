package hooks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishAssignsContiguousSequence(t *testing.T) {
	b := NewBus()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(NewNodeCreated("run-1", "n1", "1", "PLAN", "COMPOSITION")))
	}
	log := b.ReplayFrom(0)
	require.Len(t, log, 5)
	for i, e := range log {
		require.Equal(t, uint64(i), e.Seq())
	}
}

func TestRegisterIsSynchronousAndOrdered(t *testing.T) {
	b := NewBus()
	var seen []EventType
	b.Register(SubscriberFunc(func(e Event) { seen = append(seen, e.Type()) }))

	require.NoError(t, b.Publish(NewRunStarted("run-1", "write a report", "story")))
	require.NoError(t, b.Publish(NewRunFinished("run-1", "success", "", "", "")))

	require.Equal(t, []EventType{EventRunStarted, EventRunFinished}, seen, "synchronous subscribers observe events in publish order before Publish returns")
}

func TestSubscribeReplaysBacklogThenLiveEvents(t *testing.T) {
	b := NewBus()
	require.NoError(t, b.Publish(NewRunStarted("run-1", "g", "story")))
	require.NoError(t, b.Publish(NewRunStarted("run-1", "g2", "story")))

	stream, err := b.Subscribe(0)
	require.NoError(t, err)

	first := <-stream.Events
	second := <-stream.Events
	require.Equal(t, uint64(0), first.Seq())
	require.Equal(t, uint64(1), second.Seq())

	require.NoError(t, b.Publish(NewRunFinished("run-1", "success", "", "", "")))
	third := <-stream.Events
	require.Equal(t, uint64(2), third.Seq())
}

func TestSubscribeFromMidpointSkipsEarlierEvents(t *testing.T) {
	b := NewBus()
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(NewRunStarted("run-1", "g", "story")))
	}
	stream, err := b.Subscribe(2)
	require.NoError(t, err)
	e := <-stream.Events
	require.Equal(t, uint64(2), e.Seq())
}

func TestSlowSubscriberOverflowsWithoutStallingPublisher(t *testing.T) {
	b := NewBus()
	stream, err := b.Subscribe(0)
	require.NoError(t, err)

	// Publish far more than the bounded buffer without draining Events; the
	// publisher must never block, and the subscriber must be disconnected
	// with a distinct overflow signal rather than silently dropping events.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultSubscriberBuffer*4; i++ {
			_ = b.Publish(NewRunStarted("run-1", "g", "story"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	select {
	case <-stream.Overflow:
	case <-time.After(2 * time.Second):
		t.Fatal("expected overflow signal for a disconnected slow subscriber")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := NewBus()
	stream, err := b.Subscribe(0)
	require.NoError(t, err)
	stream.Unsubscribe()
	stream.Unsubscribe()
}

func TestCloseDisconnectsSubscribersAndRejectsPublish(t *testing.T) {
	b := NewBus()
	stream, err := b.Subscribe(0)
	require.NoError(t, err)
	b.Close()

	_, open := <-stream.Events
	require.False(t, open)

	err = b.Publish(NewRunStarted("run-1", "g", "story"))
	require.Error(t, err)
}
