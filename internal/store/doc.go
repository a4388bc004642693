// Package store is the tiered facade: it composes one authoritative
// provider with the fallback cache and decides, per operation, which tier
// answers.
//
// # Read path
//
// Probe the authority. When it is available and the read succeeds, the
// result is written through to the cache and returned. When the probe fails
// or the read fails, the cache answers. Reads never return an error.
//
// # Write path
//
// The facade assigns identities itself, so every tier stores the same ID.
//
//   - Authority available, write succeeds: the cache is updated too.
//   - Authority unavailable (probe failed, or the call timed out or lost
//     its connection): the cache alone takes the write.
//   - Authority reachable but rejected the write: the cache is left
//     unchanged and the computed result is returned. WithStrictWrites turns
//     this case into a PersistenceFailed error instead.
//
// A write fails with PersistenceFailed only when no tier accepted it.
//
// # Tasks referenced by events
//
// Saving an event also saves its task. If the task cannot be persisted the
// event write is rolled back so neither collection is partially applied.
//
// # Concurrency
//
// A Store is safe for concurrent use; each operation is a linear sequence of
// backend calls. Concurrent writers to the same collection race on the
// authority (see internal/kv for the lost-update window).
package store
