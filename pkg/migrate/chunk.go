package migrate

import (
	"context"
	"fmt"

	"github.com/cuemby/kvmigrate/pkg/metrics"
	"github.com/cuemby/kvmigrate/pkg/storage"
	"github.com/cuemby/kvmigrate/pkg/types"
	"github.com/rs/zerolog"
)

// ChunkProcessor transfers chunks for one logical database. It is shared by
// every worker of a migrator; the stores it holds are safe for concurrent use.
type ChunkProcessor struct {
	src    storage.Store
	dst    storage.Store
	db     types.LogicalDatabase
	dryRun bool
	logger zerolog.Logger
}

// NewChunkProcessor creates a processor over an established source and target
func NewChunkProcessor(src, dst storage.Store, db types.LogicalDatabase, dryRun bool, logger zerolog.Logger) *ChunkProcessor {
	return &ChunkProcessor{src: src, dst: dst, db: db, dryRun: dryRun, logger: logger}
}

// Process runs the transfer for every key of the chunk, in order, against one
// destination batch and then executes that batch in a single round trip.
//
// Any error, including a panic, fails the whole chunk. Restores that reached
// the target before the failure are not rolled back and are not reported;
// Migrated is only set when the batch executed.
func (p *ChunkProcessor) Process(ctx context.Context, chunk types.Chunk) (res types.ChunkResult) {
	timer := metrics.NewTimer()
	res = types.ChunkResult{Seq: chunk.Seq, Attempted: len(chunk.Keys)}

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
			res.Migrated = 0
			p.logFailure(chunk, res.Err)
		}
		res.Duration = timer.Duration()
	}()

	batch := p.dst.NewBatch()
	queued := 0
	for _, key := range chunk.Keys {
		var ok bool
		var err error
		if p.dryRun {
			var rec *types.TransferRecord
			rec, err = readRecord(ctx, p.src, key)
			ok = rec != nil
		} else {
			ok, err = TransferKey(ctx, p.src, p.dst, batch, key)
		}
		if err != nil {
			res.Err = err
			p.logFailure(chunk, err)
			return res
		}
		if ok {
			queued++
		} else {
			res.Skipped++
		}
	}

	if !p.dryRun {
		if err := batch.Exec(ctx); err != nil {
			res.Err = fmt.Errorf("batch exec: %w", err)
			p.logFailure(chunk, res.Err)
			return res
		}
	}

	res.Migrated = queued
	p.logger.Debug().
		Int("chunk", chunk.Seq).
		Int("keys", len(chunk.Keys)).
		Int("migrated", res.Migrated).
		Int("skipped", res.Skipped).
		Msg("chunk done")
	return res
}

func (p *ChunkProcessor) logFailure(chunk types.Chunk, err error) {
	if storage.IsProtocolError(err) {
		p.logger.Error().Err(err).Int("chunk", chunk.Seq).Int("keys", len(chunk.Keys)).
			Msg("chunk failed")
		return
	}
	p.logger.Error().Err(err).Int("chunk", chunk.Seq).Int("keys", len(chunk.Keys)).
		Msg("unexpected error processing chunk")
}
