// Package store provides thread registry and message log storage for the assistant.
//
// # Architecture
//
// Storage is split into narrow interfaces so callers depend only on what they use:
//
//   - ThreadStore: the thread registry (create, get, list by owner, archive, share, rename)
//   - MessageLog: a verbatim, append-only log of client-shaped messages per thread
//   - AgentStateStore: opaque agent checkpoints keyed by execution context
//
// Store combines all three. Two implementations exist:
//
//   - MemoryStore: process-lifetime maps, the default
//   - SQLiteStore: modernc.org/sqlite file database for durable deployments
//
// # Registry Semantics
//
// CreateThread is idempotent on id: registering an existing id returns the stored
// record unchanged. Archive, share, and rename calls against an unknown id are
// silently ignored. Threads are never deleted; archival hides them from
// ListThreadsByOwner but GetThread still returns them.
//
// # Message Log
//
// Messages are stored byte-for-byte and returned in append order. Appends for a
// thread are serialized so concurrent turns never lose entries. The log does not
// require a registry record for its thread.
//
// # SQLite Configuration
//
// The SQLite store runs in WAL mode over a single connection:
//
//	PRAGMA journal_mode=WAL;
//
// Database file locations:
//
//   - Production: database.path in the config file, or COVEN_ASSISTANT_DB_PATH
//   - Testing: a file under t.TempDir()
//
// # Error Handling
//
//   - ErrNotFound: requested thread or checkpoint does not exist
//   - ErrInvalidMessage: appended message is not a JSON object
//
// All methods accept context.Context for cancellation support.
package store
