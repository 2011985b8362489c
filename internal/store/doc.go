// Package store provides SQLite-backed durable storage for s3k audit logs.
//
// The store is an append-only log with:
//   - Boots: one row per kernel run, keyed by a UUIDv7 run id and carrying
//     the canonical board configuration it booted
//   - Syscalls: one row per completed system call of a run
//
// # Ordering
//
// Every syscall carries the kernel's sequence number. All queries order by
// seq ASC, id ASC COLLATE BINARY, so results are identical across reads and
// never depend on wall time.
//
// # Values
//
// Register values are full 64-bit unsigned words, which SQLite INTEGER
// cannot hold. Argument and result vectors are stored as canonical JSON
// text (internal/canon), which writes integers exactly.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
