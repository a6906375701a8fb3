package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBroker_PublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	ev := NewEvent(EventChunkCompleted, 3)
	ev.Keys = 100
	b.Publish(ev)

	for _, sub := range []Subscriber{sub1, sub2} {
		got := receive(t, sub)
		require.NotNil(t, got)
		assert.Equal(t, EventChunkCompleted, got.Type)
		assert.Equal(t, 100, got.Keys)
		assert.NotEmpty(t, got.ID)
		assert.False(t, got.Timestamp.IsZero())
	}
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)
}

func TestBroker_PublishNeverBlocks(t *testing.T) {
	b := NewBroker()
	// not started: the queue fills up and further events are dropped

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5000; i++ {
			b.Publish(NewEvent(EventChunkFailed, 0))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked")
	}

	b.Stop()
	b.Stop()
}

func TestBroker_SubscribeFilter(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	done := b.Subscribe(EventDatabaseDone)

	b.Publish(NewEvent(EventChunkCompleted, 1))
	b.Publish(NewEvent(EventDatabaseDone, 1))

	got := receive(t, done)
	assert.Equal(t, EventDatabaseDone, got.Type)

	select {
	case ev := <-done:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_CountsDropped(t *testing.T) {
	b := NewBroker()
	defer b.Stop()

	for i := 0; i < queueSize+10; i++ {
		b.Publish(NewEvent(EventChunkCompleted, 0))
	}
	assert.Equal(t, uint64(10), b.Dropped())
}

func TestBroker_FlushDeliversEarlierEvents(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	for i := 0; i < 100; i++ {
		b.Publish(NewEvent(EventChunkCompleted, 0))
	}

	require.NoError(t, b.Flush(context.Background()))
	b.Unsubscribe(sub)

	n := 0
	for range sub {
		n++
	}
	assert.Equal(t, 100, n)
	assert.Zero(t, b.Dropped())
}

func TestBroker_FlushHonorsContext(t *testing.T) {
	b := NewBroker()
	defer b.Stop()
	// not started: nothing drains the queue

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Flush(ctx), context.DeadlineExceeded)
}

func TestBroker_FlushAfterStop(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()

	assert.NoError(t, b.Flush(context.Background()))
}
