/*
Package migrate copies the keyspace of one key-value store into another using
opaque DUMP/RESTORE transfers, one independent migrator per logical database.

A Coordinator receives a list of logical database indices and launches a
Migrator for each. Migrators never share connections, counters or goroutines,
so a database that cannot connect, or that panics halfway through, does not
affect the others.

# Architecture

	┌────────────────────────────────────────────────────────────┐
	│                      Coordinator                           │
	│          (one goroutine per logical database)              │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│  Migrator (db N)                                           │
	│   CONNECTING: open + ping source, then target              │
	│   SCANNING:   cursor scan, slice pages into chunks         │
	│   DRAINING:   wait for every submitted chunk               │
	│   DONE:       result finalized, stores closed              │
	└────────────────┬───────────────────────────────────────────┘
	                 │  work channel (bounded by MaxInFlight)
	    ┌────────────┼────────────┐
	    ▼            ▼            ▼
	┌────────┐  ┌────────┐  ┌────────┐
	│ worker │  │ worker │  │ worker │   ChunkProcessor.Process
	└───┬────┘  └───┬────┘  └───┬────┘
	    └───────────┼───────────┘
	                ▼
	          aggregator (sole writer of the result counters)

# Transfer Unit

For each key in a chunk the processor reads the source with EXISTS, DUMP and
PTTL, deletes the key on the target if present, and queues a RESTORE on the
chunk's batch. The batch is executed once per chunk. A key that vanishes
between the scan and the read is skipped silently. Negative TTLs (no expiry,
or gone) are normalized to 0, which RESTORE treats as "no expiry".

A failure anywhere in a chunk fails that chunk only. Store error replies come
back as *storage.ProtocolError and are logged as "chunk failed"; anything
else, panics included, is logged as an unexpected error.

# Backpressure

The scan loop acquires a weighted semaphore slot before submitting a chunk and
a worker releases the slot once the chunk has been processed. With the default
MaxInFlight of four times the worker count, a fast source cannot queue an
unbounded number of chunks in memory.

# Cancellation

Cancelling the context passed to Run stops the scan loop at the next page.
Chunks already submitted finish against a context detached from the
cancellation, so a run that is interrupted leaves no half-written batch
behind.

# Usage

	dbs, err := migrate.ParseDatabases("0,1,4")
	if err != nil {
		return err
	}

	c := migrate.NewCoordinator(src.Open, dst.Open, migrate.Options{
		ChunkSize: 100,
		Recorder:  metrics.NewCollector(),
	})
	summary := c.Run(ctx, dbs)
	for _, res := range summary.Results {
		fmt.Println(res.DB, res.KeysMigrated, res.ChunksFailed)
	}

Running the same migration twice yields the same target contents: every key
is deleted before it is restored.
*/
package migrate
