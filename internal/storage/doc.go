// Package storage persists operational history for the daemon.
//
// It currently supports:
//   - Audit log appends (task lifecycle, account status changes)
//   - Periodic pool-stats snapshots (from the maintenance job)
//
// Account and task registries themselves are in-memory; this package is
// history, not the system of record.
package storage
