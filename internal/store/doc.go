// Package store provides the SQLite-backed Install DB.
//
// Each row is keyed by install id (the hash of a resolved install config)
// and records the last completed stage of that install along with the
// artifacts each stage produced. Rows are written after every stage, so an
// interrupted run resumes from where it stopped.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// JSON columns use the canonical encoding from internal/ir so identical
// rows are byte-identical on disk.
package store
