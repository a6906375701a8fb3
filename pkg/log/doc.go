/*
Package log provides structured logging for kvmigrate using zerolog.

A single global Logger is configured once by Init from the CLI flags. Packages
derive child loggers that carry context fields:

	dbLog := log.WithDB(types.LogicalDatabase(3))
	dbLog.Info().Int("chunks", 12).Msg("migration complete")

Console output (the default) is meant for operators watching a run:

	2026-10-16T10:30:00Z INF migration complete chunks=12 db=3

JSON output (--log-json) emits one object per line for log shippers.

Every line produced by a database migrator carries the db field, so the
interleaved output of concurrent databases can be filtered per index.
*/
package log
