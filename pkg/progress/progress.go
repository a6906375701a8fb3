package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cuemby/kvmigrate/pkg/events"
	"github.com/schollz/progressbar/v3"
)

// Reporter renders migration events as a spinner with a running key count
type Reporter struct {
	broker *events.Broker
	sub    events.Subscriber
	bar    *progressbar.ProgressBar

	mu     sync.Mutex
	keys   int64
	failed int
	done   int
	total  int

	stopped chan struct{}
	once    sync.Once
}

// NewReporter creates a reporter for a run over total databases. Output goes
// to w, or stderr when w is nil.
func NewReporter(broker *events.Broker, total int, w io.Writer) *Reporter {
	if w == nil {
		w = os.Stderr
	}
	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(describe(0, total, 0)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("keys"),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
	return &Reporter{
		broker:  broker,
		bar:     bar,
		total:   total,
		stopped: make(chan struct{}),
	}
}

// Start subscribes to the broker and begins rendering
func (r *Reporter) Start() {
	r.sub = r.broker.Subscribe(events.EventChunkCompleted, events.EventChunkFailed, events.EventDatabaseDone)
	go r.run()
}

// Stop unsubscribes and finishes the bar. Safe to call more than once.
func (r *Reporter) Stop() {
	r.once.Do(func() {
		if r.sub != nil {
			r.broker.Unsubscribe(r.sub)
			<-r.stopped
		}
		_ = r.bar.Finish()
	})
}

// Keys returns the number of keys reported so far
func (r *Reporter) Keys() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keys
}

func (r *Reporter) run() {
	defer close(r.stopped)
	for ev := range r.sub {
		r.handle(ev)
	}
}

func (r *Reporter) handle(ev *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case events.EventChunkCompleted:
		r.keys += int64(ev.Keys)
		_ = r.bar.Add(ev.Keys)
		return
	case events.EventChunkFailed:
		r.failed++
	case events.EventDatabaseDone:
		r.done++
	default:
		return
	}
	r.bar.Describe(describe(r.done, r.total, r.failed))
}

func describe(done, total, failed int) string {
	if failed == 0 {
		return fmt.Sprintf("databases %d/%d", done, total)
	}
	return fmt.Sprintf("databases %d/%d, %d chunks failed", done, total, failed)
}
