/*
Package types defines the data structures shared by the kvmigrate packages.

The types describe a migration in the order work flows through it:

  - LogicalDatabase: the namespace index being migrated
  - KeyBatch: keys and the continuation cursor returned by one scan step
  - Chunk: a bounded slice of keys handed to one worker
  - TransferRecord: the dumped value and normalized TTL of a single key
  - ChunkResult: what one chunk processor did
  - MigrationResult: per-database counters and terminal state
  - Summary: all database results for one run

None of these types are persisted. A Summary lives only as long as the
process that produced it.
*/
package types
