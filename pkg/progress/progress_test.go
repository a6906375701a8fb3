package progress

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/cuemby/kvmigrate/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporter_CountsKeys(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	r := NewReporter(broker, 2, io.Discard)
	r.Start()

	for i := 0; i < 5; i++ {
		ev := events.NewEvent(events.EventChunkCompleted, 0)
		ev.Keys = 10
		broker.Publish(ev)
	}
	broker.Publish(events.NewEvent(events.EventChunkFailed, 1))
	broker.Publish(events.NewEvent(events.EventDatabaseDone, 0))

	require.Eventually(t, func() bool { return r.Keys() == 50 }, 2*time.Second, 5*time.Millisecond)

	r.Stop()
	assert.Equal(t, 0, broker.SubscriberCount())
}

func TestReporter_FlushThenStopIsExact(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	r := NewReporter(broker, 1, io.Discard)
	r.Start()

	for i := 0; i < 200; i++ {
		ev := events.NewEvent(events.EventChunkCompleted, 0)
		ev.Keys = 3
		broker.Publish(ev)
	}

	require.NoError(t, broker.Flush(context.Background()))
	r.Stop()
	assert.Equal(t, int64(600), r.Keys())
}

func TestReporter_StopIsIdempotent(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	r := NewReporter(broker, 1, io.Discard)
	r.Start()

	assert.NotPanics(t, func() {
		r.Stop()
		r.Stop()
	})
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "databases 1/3", describe(1, 3, 0))
	assert.Equal(t, "databases 3/3, 2 chunks failed", describe(3, 3, 2))
}
