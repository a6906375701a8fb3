package migrate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/kvmigrate/pkg/log"
	"github.com/cuemby/kvmigrate/pkg/storage"
	"github.com/cuemby/kvmigrate/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidDatabase is returned when a database list entry is not a
// non-negative integer
var ErrInvalidDatabase = errors.New("the database list must contain only non-negative integers")

// ParseDatabases parses a comma separated list of logical database indices.
// Every entry is validated before anything is returned.
func ParseDatabases(list string) ([]types.LogicalDatabase, error) {
	if strings.TrimSpace(list) == "" {
		return nil, fmt.Errorf("%w: list is empty", ErrInvalidDatabase)
	}

	parts := strings.Split(list, ",")
	dbs := make([]types.LogicalDatabase, 0, len(parts))
	seen := make(map[int]bool, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDatabase, part)
		}
		if seen[n] {
			return nil, fmt.Errorf("database %d listed more than once", n)
		}
		seen[n] = true
		dbs = append(dbs, types.LogicalDatabase(n))
	}
	return dbs, nil
}

// Coordinator runs one independent migrator per logical database
type Coordinator struct {
	source storage.Opener
	target storage.Opener
	opts   Options
	runID  string
	logger zerolog.Logger
}

// NewCoordinator creates a coordinator. Every migrator it launches opens
// its own stores through source and target.
func NewCoordinator(source, target storage.Opener, opts Options) *Coordinator {
	runID := uuid.New().String()
	return &Coordinator{
		source: source,
		target: target,
		opts:   opts,
		runID:  runID,
		logger: log.WithRunID(runID),
	}
}

// RunID identifies this coordinator's run in logs and the summary
func (c *Coordinator) RunID() string {
	return c.runID
}

// Run launches a migrator per database and blocks until every one is done.
// Results are in the order of dbs. A failure in one database never affects
// another.
func (c *Coordinator) Run(ctx context.Context, dbs []types.LogicalDatabase) *types.Summary {
	summary := &types.Summary{
		RunID:   c.runID,
		Results: make([]*types.MigrationResult, len(dbs)),
	}

	c.logger.Info().Int("databases", len(dbs)).Msg("launching migrators")

	var wg sync.WaitGroup
	for i, db := range dbs {
		wg.Add(1)
		go func(i int, db types.LogicalDatabase) {
			defer wg.Done()
			summary.Results[i] = c.runOne(ctx, db)
		}(i, db)
	}
	wg.Wait()

	c.logger.Info().
		Int("databases", len(dbs)).
		Int("migrated", summary.TotalMigrated()).
		Bool("failures", summary.Failed()).
		Msg("all migrators finished")
	return summary
}

// runOne contains a panicking migrator to its own database
func (c *Coordinator) runOne(ctx context.Context, db types.LogicalDatabase) (res *types.MigrationResult) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("migrator panic: %v", r)
			logger := log.WithDB(db)
			logger.Error().Err(err).Msg("migrator crashed")
			res = &types.MigrationResult{
				DB:         db,
				State:      types.MigratorStateDone,
				Err:        err,
				StartedAt:  started,
				FinishedAt: time.Now(),
			}
		}
	}()

	return NewMigrator(db, c.source, c.target, c.opts).Run(ctx)
}
