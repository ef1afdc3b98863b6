// Package storage is the record store behind the broadcast core.
//
// One interface, two drivers:
//   - "file": flat-file backend (journal + snapshots), no extra dependencies
//   - "sqlite": SQLite database file
//
// It persists:
//   - registered broadcast destinations (groups)
//   - operator profiles seen on inbound traffic
//   - at most one pending broadcast per operator
//   - the append-only delivery ledger used for retraction
package storage
