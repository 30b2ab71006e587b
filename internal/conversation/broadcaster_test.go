// ABOUTME: Tests for EventBroadcaster fan-out pub/sub system
// ABOUTME: Covers org and session topics, exclusion, slow subscribers, cancellation and concurrency

package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEvent(id, org, session string) *Event {
	return &Event{
		ID:        id,
		Type:      EventMessageAppended,
		OrgID:     org,
		SessionID: session,
	}
}

func receive(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertNothing(t *testing.T, ch <-chan *Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_SessionSubscriberReceivesEvent(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "acme", "s1")
	b.Publish(makeEvent("evt-1", "acme", "s1"), "")

	assert.Equal(t, "evt-1", receive(t, ch).ID)
}

func TestBroadcaster_OrgSubscriberSeesEverySession(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "acme", "")
	b.Publish(makeEvent("evt-1", "acme", "s1"), "")
	b.Publish(makeEvent("evt-2", "acme", "s2"), "")

	assert.Equal(t, "evt-1", receive(t, ch).ID)
	assert.Equal(t, "evt-2", receive(t, ch).ID)
}

func TestBroadcaster_TopicsAreIsolated(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	s2, _ := b.Subscribe(ctx, "acme", "s2")
	otherOrg, _ := b.Subscribe(ctx, "globex", "")
	otherOrgSameSession, _ := b.Subscribe(ctx, "globex", "s1")

	b.Publish(makeEvent("evt-1", "acme", "s1"), "")

	assertNothing(t, s2)
	assertNothing(t, otherOrg)
	assertNothing(t, otherOrgSameSession)
}

func TestBroadcaster_ExcludeSubIDSkipsOriginator(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	ch1, subID1 := b.Subscribe(ctx, "acme", "s1")
	ch2, _ := b.Subscribe(ctx, "acme", "s1")

	b.Publish(makeEvent("evt-1", "acme", "s1"), subID1)

	assertNothing(t, ch1)
	assert.Equal(t, "evt-1", receive(t, ch2).ID)
}

func TestBroadcaster_FillsIDAndTimestamp(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "acme", "s1")
	b.Publish(&Event{Type: EventModeChanged, OrgID: "acme", SessionID: "s1"}, "")

	ev := receive(t, ch)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.At.IsZero())
}

func TestBroadcaster_SlowSubscriberDropsWithoutBlocking(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	slow, _ := b.Subscribe(ctx, "acme", "s1")
	fast, _ := b.Subscribe(ctx, "acme", "s1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range subscriberBufferSize + 10 {
			b.Publish(makeEvent(fmt.Sprintf("evt-%d", i), "acme", "s1"), "")
		}
	}()

	// The fast subscriber drains concurrently.
	go func() {
		for range fast {
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
	assert.Len(t, slow, subscriberBufferSize)
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "acme", "s1")
	require.Equal(t, 1, b.SubscriberCount("acme", "s1"))

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after cancel")
	}
	assert.Eventually(t, func() bool { return b.SubscriberCount("acme", "s1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestBroadcaster_CloseClosesAllChannels(t *testing.T) {
	b := NewEventBroadcaster(nil)

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx, "acme", "")
	ch2, _ := b.Subscribe(ctx, "acme", "s1")

	b.Close()

	for _, ch := range []<-chan *Event{ch1, ch2} {
		_, ok := <-ch
		assert.False(t, ok)
	}
}

func TestBroadcaster_ConcurrentPublishAndSubscribe(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			ctx, cancel := context.WithCancel(context.Background())
			ch, _ := b.Subscribe(ctx, "acme", "s1")
			b.Publish(makeEvent(fmt.Sprintf("evt-%d", i), "acme", "s1"), "")
			<-ch
			cancel()
		})
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent publish/subscribe deadlocked")
	}
}
