// Package storage defines the persistence boundaries of the projection
// engine: the append-only event log, the projection record store, and the
// checkpoint store. Implementations live in subpackages (storage/sqlite).
//
// The event log is the source of truth. Projection records and checkpoints
// are derived state: they can be deleted and rebuilt from the log at any
// time.
package storage
