// Package conversation owns the per-identity message logs.
//
// # Overview
//
// A conversation is the ordered, append-only list of messages exchanged with one
// identity (a normalized phone number). The Store keeps the full index in memory
// and writes through to a Backend on every append:
//
//	store := conversation.NewStore(backend, logger)
//	if err := store.LoadAll(ctx); err != nil { ... }
//	err := store.Append(ctx, "34600111222", msg)
//
// An append is acknowledged only after the backend has persisted the new record.
// Appends for the same identity are serialized; appends for different identities
// never wait on each other.
//
// # Backends
//
//   - FileBackend: one JSON file per identity, replaced atomically
//   - SQLiteBackend: one row per identity in a SQLite database
//   - MemoryBackend: in-memory, for tests
//
// LoadAll skips records a backend cannot read and logs a warning, so one corrupt
// record never stops the service from starting.
package conversation
