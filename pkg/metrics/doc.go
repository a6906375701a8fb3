/*
Package metrics exposes Prometheus metrics and health status for a migration run.

All metrics are registered on the default registry at package init and are
labelled by logical database index:

	kvmigrate_chunks_total{db,status}          ok | failed
	kvmigrate_keys_total{db,outcome}           migrated | skipped | failed
	kvmigrate_chunk_duration_seconds{db}
	kvmigrate_chunks_in_flight{db}
	kvmigrate_scan_batches_total{db}
	kvmigrate_scan_errors_total{db}
	kvmigrate_database_duration_seconds{db,status}
	kvmigrate_databases_active

Collector is the bridge from the migration engine: each database migrator
reports start, connect, scan steps, chunk results and its final result, and
the Collector turns those into counter updates and health component changes.

Each database registers a health component named "db:<index>". /health turns
503 once any database fails to connect or finishes with failed chunks; /ready
is 200 while every registered database is connected. NewServeMux mounts
/metrics, /health, /ready and /live for the --metrics-addr listener.
*/
package metrics
