package types

import (
	"fmt"
	"time"
)

// LogicalDatabase identifies one namespace inside a store instance
type LogicalDatabase int

func (db LogicalDatabase) String() string {
	return fmt.Sprintf("%d", int(db))
}

// KeyBatch is the outcome of one scan step.
// Cursor 0 means enumeration is complete; Keys may be empty while it is not.
type KeyBatch struct {
	Keys   []string
	Cursor uint64
}

// Done reports whether the scan that produced this batch has finished
func (b KeyBatch) Done() bool {
	return b.Cursor == 0
}

// Chunk is the unit of work dispatched to a worker
type Chunk struct {
	DB   LogicalDatabase
	Seq  int
	Keys []string
}

// TransferRecord holds one key in flight between source and target.
// TTL 0 means the key is restored without expiry.
type TransferRecord struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// MigratorState tracks a database migrator through its lifecycle
type MigratorState string

const (
	MigratorStateConnecting MigratorState = "connecting"
	MigratorStateScanning   MigratorState = "scanning"
	MigratorStateDraining   MigratorState = "draining"
	MigratorStateDone       MigratorState = "done"
)

// ChunkResult is the outcome of one chunk processor run
type ChunkResult struct {
	Seq       int
	Attempted int // keys in the chunk
	Migrated  int // restores committed by the batch
	Skipped   int // keys that vanished before dump
	Err       error
	Duration  time.Duration
}

// Failed reports whether the chunk was marked failed
func (r ChunkResult) Failed() bool {
	return r.Err != nil
}

// MigrationResult aggregates everything one database migrator did
type MigrationResult struct {
	DB              LogicalDatabase
	State           MigratorState
	ChunksAttempted int
	ChunksFailed    int
	KeysMigrated    int
	KeysSkipped     int
	// ApproxKeys is chunks attempted times chunk size, reported for
	// comparison with older tooling. KeysMigrated is the exact count.
	ApproxKeys int
	ConnectErr error
	ScanErr    error
	Err        error // unit ended by an unexpected failure
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the migrator ran
func (r *MigrationResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed reports whether anything in this database went wrong
func (r *MigrationResult) Failed() bool {
	return r.ConnectErr != nil || r.ScanErr != nil || r.Err != nil || r.ChunksFailed > 0
}

// Summary collects the results of one coordinator run
type Summary struct {
	RunID   string
	Results []*MigrationResult
}

// Failed reports whether any database in the run reported a failure
func (s *Summary) Failed() bool {
	for _, r := range s.Results {
		if r.Failed() {
			return true
		}
	}
	return false
}

// TotalMigrated returns the exact number of keys migrated across databases
func (s *Summary) TotalMigrated() int {
	total := 0
	for _, r := range s.Results {
		total += r.KeysMigrated
	}
	return total
}
