package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/kvmigrate/pkg/types"
	"github.com/google/uuid"
)

// EventType names a point in a database migrator's lifecycle
type EventType string

const (
	EventDatabaseStarted   EventType = "database.started"
	EventDatabaseConnected EventType = "database.connected"
	EventDatabaseDone      EventType = "database.done"
	EventChunkCompleted    EventType = "chunk.completed"
	EventChunkFailed       EventType = "chunk.failed"
)

const (
	queueSize      = 1024
	subscriberSize = 256
)

// Event is one lifecycle notification from a database migrator
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	DB        types.LogicalDatabase
	Keys      int // keys migrated by a chunk, or by a whole database on done
	Message   string

	flushed chan struct{} // set on Flush markers, which are never delivered
}

// NewEvent creates an event with a fresh ID
func NewEvent(t EventType, db types.LogicalDatabase) *Event {
	return &Event{
		ID:   uuid.New().String(),
		Type: t,
		DB:   db,
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

type subscription struct {
	ch     Subscriber
	filter map[EventType]bool // nil accepts every type
}

func (s *subscription) wants(t EventType) bool {
	return s.filter == nil || s.filter[t]
}

// Broker fans events out to subscribers without ever blocking a publisher
type Broker struct {
	mu    sync.RWMutex
	subs  map[Subscriber]*subscription
	queue chan *Event

	stop     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// NewBroker creates a broker. Nothing is delivered until Start.
func NewBroker() *Broker {
	return &Broker{
		subs:  make(map[Subscriber]*subscription),
		queue: make(chan *Event, queueSize),
		stop:  make(chan struct{}),
	}
}

// Start launches the delivery loop
func (b *Broker) Start() {
	go b.run()
}

// Stop ends the delivery loop. Safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
}

// Subscribe returns a channel receiving events of the given types, or of
// every type when none are given
func (b *Broker) Subscribe(only ...EventType) Subscriber {
	sub := &subscription{ch: make(Subscriber, subscriberSize)}
	if len(only) > 0 {
		sub.filter = make(map[EventType]bool, len(only))
		for _, t := range only {
			sub.filter[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub.ch] = sub
	return sub.ch
}

// Unsubscribe removes and closes a subscription. Unknown or already removed
// channels are ignored.
func (b *Broker) Unsubscribe(ch Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
}

// Publish queues an event for delivery. A full queue drops the event.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-b.stop:
		return
	default:
	}

	select {
	case b.queue <- event:
	default:
		b.dropped.Add(1)
	}
}

// Flush blocks until every event published before the call has been handed
// to subscribers, or ctx ends. A subscriber unsubscribed afterwards still
// receives those events before its channel closes.
func (b *Broker) Flush(ctx context.Context) error {
	marker := &Event{flushed: make(chan struct{})}

	select {
	case b.queue <- marker:
	case <-b.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-marker.flushed:
		return nil
	case <-b.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped counts events lost to a full queue or a slow subscriber
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscriptions
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.queue:
			if event.flushed != nil {
				close(event.flushed)
				continue
			}
			b.deliver(event)
		case <-b.stop:
			return
		}
	}
}

func (b *Broker) deliver(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}
