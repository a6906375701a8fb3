package migrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/kvmigrate/pkg/events"
	"github.com/cuemby/kvmigrate/pkg/log"
	"github.com/cuemby/kvmigrate/pkg/storage"
	"github.com/cuemby/kvmigrate/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Migrator drives the migration of one logical database from connect to done
type Migrator struct {
	db     types.LogicalDatabase
	source storage.Opener
	target storage.Opener
	opts   Options
	logger zerolog.Logger

	mu    sync.RWMutex
	state types.MigratorState
}

// NewMigrator creates a migrator for db. It opens its own source and target
// stores when Run is called.
func NewMigrator(db types.LogicalDatabase, source, target storage.Opener, opts Options) *Migrator {
	return &Migrator{
		db:     db,
		source: source,
		target: target,
		opts:   opts.withDefaults(),
		logger: log.WithDB(db),
		state:  types.MigratorStateConnecting,
	}
}

// State returns the current lifecycle state
func (m *Migrator) State() types.MigratorState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Migrator) setState(s types.MigratorState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.logger.Debug().Str("state", string(s)).Msg("state changed")
}

// Run migrates the database and always returns a result in state done.
// Chunk failures are counted, not returned. Cancelling ctx stops scanning;
// chunks already submitted are allowed to finish.
func (m *Migrator) Run(ctx context.Context) *types.MigrationResult {
	res := &types.MigrationResult{DB: m.db, StartedAt: time.Now()}
	m.opts.Recorder.DatabaseStarted(m.db)
	m.opts.Events.Publish(events.NewEvent(events.EventDatabaseStarted, m.db))

	defer func() {
		res.FinishedAt = time.Now()
		res.ApproxKeys = res.ChunksAttempted * m.opts.ChunkSize
		m.setState(types.MigratorStateDone)
		res.State = types.MigratorStateDone
		m.opts.Recorder.DatabaseFinished(m.db, res)

		done := events.NewEvent(events.EventDatabaseDone, m.db)
		done.Keys = res.KeysMigrated
		m.opts.Events.Publish(done)
		m.logSummary(res)
	}()

	m.setState(types.MigratorStateConnecting)
	m.logger.Info().Msg("connecting to the servers")
	src, dst, err := m.connect(ctx)
	if err != nil {
		res.ConnectErr = err
		m.logger.Error().Err(err).Msg("connection failed")
		return res
	}
	defer src.Close()
	defer dst.Close()
	m.opts.Recorder.DatabaseConnected(m.db)
	m.opts.Events.Publish(events.NewEvent(events.EventDatabaseConnected, m.db))

	m.setState(types.MigratorStateScanning)
	m.logger.Info().
		Str("pattern", m.opts.KeyPattern).
		Int("chunk_size", m.opts.ChunkSize).
		Int("workers", m.opts.Workers).
		Bool("dry_run", m.opts.DryRun).
		Msg("starting the transfer")

	processor := NewChunkProcessor(src, dst, m.db, m.opts.DryRun, m.logger)
	sem := semaphore.NewWeighted(int64(m.opts.MaxInFlight))
	work := make(chan types.Chunk, m.opts.MaxInFlight)
	results := make(chan types.ChunkResult, m.opts.Workers)

	// Submitted chunks run to completion even if ctx is cancelled
	chunkCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < m.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range work {
				r := processor.Process(chunkCtx, chunk)
				sem.Release(1)
				results <- r
			}
		}()
	}

	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		m.aggregate(results, res)
	}()

	submitted, scanErr := m.scan(ctx, src, sem, work)
	close(work)

	m.setState(types.MigratorStateDraining)
	m.logger.Debug().Int("chunks", submitted).Msg("scan finished, draining workers")
	wg.Wait()
	close(results)
	<-aggDone

	res.ChunksAttempted = submitted
	res.ScanErr = scanErr
	return res
}

func (m *Migrator) connect(ctx context.Context) (storage.Store, storage.Store, error) {
	src, err := m.source(m.db)
	if err != nil {
		return nil, nil, fmt.Errorf("open source: %w", err)
	}
	if err := src.Ping(ctx); err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("source: %w", err)
	}

	dst, err := m.target(m.db)
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("open target: %w", err)
	}
	if err := dst.Ping(ctx); err != nil {
		src.Close()
		dst.Close()
		return nil, nil, fmt.Errorf("target: %w", err)
	}
	return src, dst, nil
}

// scan loops the scanner and submits chunks until the cursor returns to 0.
// It blocks whenever MaxInFlight chunks are outstanding. A panic ends the
// scan with an error; chunks already submitted still drain.
func (m *Migrator) scan(ctx context.Context, src storage.Store, sem *semaphore.Weighted, work chan<- types.Chunk) (submitted int, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Int("chunks", submitted).Msg("scan crashed")
			err = fmt.Errorf("scan panic: %v", r)
		}
	}()

	scanner := NewScanner(src, m.opts.KeyPattern, m.opts.ScanBatchSize)
	seq := 0

	for !scanner.Done() {
		if err := ctx.Err(); err != nil {
			m.logger.Warn().Err(err).Uint64("cursor", scanner.Cursor()).Msg("scan interrupted")
			return submitted, err
		}

		batch, err := scanner.Next(ctx)
		m.opts.Recorder.ScanBatch(m.db, len(batch.Keys), err)
		if err != nil {
			m.logger.Error().Err(err).Uint64("cursor", scanner.Cursor()).Msg("scan failed")
			return submitted, fmt.Errorf("scan: %w", err)
		}

		for _, chunk := range SliceChunks(m.db, batch.Keys, m.opts.ChunkSize, &seq) {
			if err := sem.Acquire(ctx, 1); err != nil {
				m.logger.Warn().Err(err).Msg("scan interrupted")
				return submitted, err
			}
			m.opts.Recorder.ChunkSubmitted(m.db)
			work <- chunk
			submitted++
		}
	}
	return submitted, nil
}

// aggregate is the only writer of the result counters while workers run
func (m *Migrator) aggregate(results <-chan types.ChunkResult, res *types.MigrationResult) {
	for r := range results {
		m.opts.Recorder.ChunkFinished(m.db, r)

		var ev *events.Event
		if r.Failed() {
			res.ChunksFailed++
			ev = events.NewEvent(events.EventChunkFailed, m.db)
			ev.Message = r.Err.Error()
		} else {
			res.KeysMigrated += r.Migrated
			res.KeysSkipped += r.Skipped
			ev = events.NewEvent(events.EventChunkCompleted, m.db)
			ev.Keys = r.Migrated
		}
		m.opts.Events.Publish(ev)
	}
}

func (m *Migrator) logSummary(res *types.MigrationResult) {
	evt := m.logger.Info()
	if res.Failed() {
		evt = m.logger.Warn()
	}
	evt.
		Int("chunks", res.ChunksAttempted).
		Int("failed", res.ChunksFailed).
		Int("migrated", res.KeysMigrated).
		Int("skipped", res.KeysSkipped).
		Dur("duration", res.Duration()).
		Msgf("Migration complete. Approximately %d keys migrated.", res.ApproxKeys)
}
