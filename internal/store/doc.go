// Package store provides SQLite-backed build history.
//
// Every build invocation is recorded when it starts and updated when it
// finishes, together with the files it wrote:
//   - builds: one row per invocation (mode, definition hash, outcome)
//   - build_files: the publish-relative path, size and content hash of
//     every written file
//
// # Ordering
//
// Builds are ordered by seq, a logical counter assigned on insert, never
// by timestamps. Files are ordered by path.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
