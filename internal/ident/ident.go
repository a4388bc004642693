// Package ident assigns identities to events that arrive without one.
package ident

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Prefix marks generated event IDs so they are distinguishable from the
// numeric IDs of the bootstrap seed.
const Prefix = "event_"

// Generator produces event IDs.
// Implemented by UUIDv7Generator (production) and SequenceGenerator (tests).
type Generator interface {
	NewID() string
}

// UUIDv7Generator generates time-sortable IDs without a central sequence.
//
// UUIDv7 puts a millisecond timestamp in the most significant bits and fills
// the rest with random data. google/uuid keeps the timestamp monotonic within
// a process, so IDs generated in order also sort in order.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID returns "event_" followed by a hyphenated UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) NewID() string {
	return Prefix + uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator returns "event_1", "event_2", ... for deterministic tests.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu sync.Mutex
	n  int
}

// NewID returns the next ID in the sequence.
func (g *SequenceGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%d", Prefix, g.n)
}

// Assign returns id unchanged when set, otherwise a fresh ID from gen.
func Assign(gen Generator, id string) string {
	if id != "" {
		return id
	}
	return gen.NewID()
}
