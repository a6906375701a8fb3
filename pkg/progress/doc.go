// Package progress renders a terminal spinner with the number of keys
// migrated so far, fed by the events broker.
package progress
