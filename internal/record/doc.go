// Package record defines the data contracts shared by every storage tier:
// calendar events, task names, and the snapshot envelope that carries both
// collections plus metadata.
//
// # Collections
//
//   - Events: identified by an opaque ID, assigned on first persist and never
//     changed afterwards. (date, time, task, member) need not be unique.
//   - Tasks: a set of unique names, returned sorted ascending.
//
// # Collection Rules
//
// The upsert/delete helpers in this package are the single definition of how
// a collection changes. Providers that hold whole collections (the KV blob and
// the fallback cache) and the tiered facade all go through them, so every tier
// computes the same next state for the same operation.
//
// All helpers return fresh slices and never mutate their input.
//
// # Text Normalization
//
// Free-text fields of new input are NFC-normalized at the HTTP and CLI
// boundary (NormalizeEvent, NormalizeTask). Stores never normalize: task
// matching is exact and case-sensitive, and event IDs are opaque, so a
// stored name with stray whitespace or decomposed kana is still matched and
// deleted by its exact bytes.
package record
