package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/kvmigrate/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_ChunkCounters(t *testing.T) {
	c := NewCollector()
	db := types.LogicalDatabase(41)

	c.ChunkSubmitted(db)
	c.ChunkSubmitted(db)
	c.ChunkFinished(db, types.ChunkResult{Attempted: 3, Migrated: 2, Skipped: 1, Duration: time.Millisecond})
	c.ChunkFinished(db, types.ChunkResult{Attempted: 5, Err: errors.New("boom")})

	assert.Equal(t, float64(1), testutil.ToFloat64(ChunksTotal.WithLabelValues("41", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ChunksTotal.WithLabelValues("41", "failed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(KeysTotal.WithLabelValues("41", "migrated")))
	assert.Equal(t, float64(1), testutil.ToFloat64(KeysTotal.WithLabelValues("41", "skipped")))
	assert.Equal(t, float64(5), testutil.ToFloat64(KeysTotal.WithLabelValues("41", "failed")))
	assert.Equal(t, float64(0), testutil.ToFloat64(ChunksInFlight.WithLabelValues("41")))
}

func TestCollector_DatabaseHealth(t *testing.T) {
	resetHealth("")
	c := NewCollector()

	c.DatabaseStarted(42)
	assert.False(t, board.components["db:42"].Healthy)

	c.DatabaseConnected(42)
	assert.True(t, board.components["db:42"].Healthy)

	c.DatabaseFinished(42, &types.MigrationResult{DB: 42, ChunksAttempted: 4, ChunksFailed: 1})
	comp := board.components["db:42"]
	assert.False(t, comp.Healthy)
	assert.Contains(t, comp.Message, "1 failed chunks")

	c.DatabaseStarted(43)
	c.DatabaseFinished(43, &types.MigrationResult{DB: 43, ConnectErr: errors.New("refused")})
	assert.Contains(t, board.components["db:43"].Message, "connection failed")
}

func TestCollector_ScanBatch(t *testing.T) {
	c := NewCollector()

	c.ScanBatch(44, 10, nil)
	c.ScanBatch(44, 0, errors.New("timeout"))

	assert.Equal(t, float64(1), testutil.ToFloat64(ScanBatchesTotal.WithLabelValues("44")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ScanErrorsTotal.WithLabelValues("44")))
}
