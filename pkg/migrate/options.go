package migrate

import (
	"runtime"

	"github.com/cuemby/kvmigrate/pkg/events"
	"github.com/cuemby/kvmigrate/pkg/types"
)

const (
	DefaultScanBatchSize = 1000
	DefaultChunkSize     = 100
	DefaultKeyPattern    = "*"
)

// Options tunes one database migrator. The coordinator hands every migrator
// a copy, so nothing in here is shared mutable state.
type Options struct {
	ScanBatchSize int64
	ChunkSize     int
	KeyPattern    string
	Workers       int
	// MaxInFlight bounds chunks queued or executing; the scan loop pauses
	// once it is reached.
	MaxInFlight int
	DryRun      bool

	Recorder Recorder
	Events   Publisher
}

// DefaultWorkers matches the usual I/O bound pool size: NumCPU+4, capped at 32
func DefaultWorkers() int {
	n := runtime.NumCPU() + 4
	if n > 32 {
		n = 32
	}
	return n
}

func (o Options) withDefaults() Options {
	if o.ScanBatchSize <= 0 {
		o.ScanBatchSize = DefaultScanBatchSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.KeyPattern == "" {
		o.KeyPattern = DefaultKeyPattern
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers()
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 4 * o.Workers
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	if o.Events == nil {
		o.Events = nopPublisher{}
	}
	return o
}

// Recorder receives progress from database migrators. Implementations must
// be safe for concurrent use; metrics.Collector is the production one.
type Recorder interface {
	DatabaseStarted(db types.LogicalDatabase)
	DatabaseConnected(db types.LogicalDatabase)
	ScanBatch(db types.LogicalDatabase, keys int, err error)
	ChunkSubmitted(db types.LogicalDatabase)
	ChunkFinished(db types.LogicalDatabase, res types.ChunkResult)
	DatabaseFinished(db types.LogicalDatabase, res *types.MigrationResult)
}

// Publisher is the part of events.Broker migrators use
type Publisher interface {
	Publish(event *events.Event)
}

type nopRecorder struct{}

func (nopRecorder) DatabaseStarted(types.LogicalDatabase)                           {}
func (nopRecorder) DatabaseConnected(types.LogicalDatabase)                         {}
func (nopRecorder) ScanBatch(types.LogicalDatabase, int, error)                     {}
func (nopRecorder) ChunkSubmitted(types.LogicalDatabase)                            {}
func (nopRecorder) ChunkFinished(types.LogicalDatabase, types.ChunkResult)          {}
func (nopRecorder) DatabaseFinished(types.LogicalDatabase, *types.MigrationResult) {}

type nopPublisher struct{}

func (nopPublisher) Publish(*events.Event) {}
