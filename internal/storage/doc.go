// Package storage persists the watch graph: a mapping from watcher id to the
// ordered list of target ids that watcher follows.
//
// Every driver stores complete snapshots. SaveWatchlists either commits the
// whole new mapping or leaves the previous one in place; a reader after a
// crash never observes a partial write.
//
// Drivers:
//   - file:     one JSON document, replaced atomically (temp file + rename)
//   - sqlite:   modernc.org/sqlite, snapshot rewritten inside one transaction
//   - postgres: jackc/pgx pool, snapshot rewritten inside one transaction
package storage
