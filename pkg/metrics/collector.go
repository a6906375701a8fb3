package metrics

import (
	"fmt"

	"github.com/cuemby/kvmigrate/pkg/types"
)

// Collector feeds migrator progress into the Prometheus metrics and the
// health checker. It is safe for concurrent use by every database migrator.
type Collector struct{}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) DatabaseStarted(db types.LogicalDatabase) {
	DatabasesActive.Inc()
	SetComponent(DatabaseComponent(db), false, "connecting")
}

func (c *Collector) DatabaseConnected(db types.LogicalDatabase) {
	SetComponent(DatabaseComponent(db), true, "migrating")
}

func (c *Collector) ScanBatch(db types.LogicalDatabase, keys int, err error) {
	label := db.String()
	if err != nil {
		ScanErrorsTotal.WithLabelValues(label).Inc()
		return
	}
	ScanBatchesTotal.WithLabelValues(label).Inc()
}

func (c *Collector) ChunkSubmitted(db types.LogicalDatabase) {
	ChunksInFlight.WithLabelValues(db.String()).Inc()
}

func (c *Collector) ChunkFinished(db types.LogicalDatabase, res types.ChunkResult) {
	label := db.String()
	ChunksInFlight.WithLabelValues(label).Dec()
	ChunkDuration.WithLabelValues(label).Observe(res.Duration.Seconds())

	if res.Failed() {
		ChunksTotal.WithLabelValues(label, "failed").Inc()
		KeysTotal.WithLabelValues(label, "failed").Add(float64(res.Attempted))
		return
	}
	ChunksTotal.WithLabelValues(label, "ok").Inc()
	KeysTotal.WithLabelValues(label, "migrated").Add(float64(res.Migrated))
	KeysTotal.WithLabelValues(label, "skipped").Add(float64(res.Skipped))
}

func (c *Collector) DatabaseFinished(db types.LogicalDatabase, res *types.MigrationResult) {
	DatabasesActive.Dec()

	status := "ok"
	switch {
	case res.ConnectErr != nil:
		status = "connect_failed"
		SetComponent(DatabaseComponent(db), false, fmt.Sprintf("connection failed: %v", res.ConnectErr))
	case res.ScanErr != nil:
		status = "partial"
		SetComponent(DatabaseComponent(db), false, fmt.Sprintf("scan aborted: %v", res.ScanErr))
	case res.Failed():
		status = "partial"
		SetComponent(DatabaseComponent(db), false, fmt.Sprintf("done with %d failed chunks", res.ChunksFailed))
	default:
		SetComponent(DatabaseComponent(db), true, "done")
	}
	DatabaseDuration.WithLabelValues(db.String(), status).Observe(res.Duration().Seconds())
}
