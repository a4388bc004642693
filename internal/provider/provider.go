// Package provider defines the capability every storage backend implements
// and the error taxonomy shared by all tiers.
//
// Variants:
//   - Local: the fallback cache (internal/cache), always available
//   - KV: a remote key-value store holding two JSON blobs (internal/kv)
//   - Memory: the KV provider over an in-process client, for tests and demos
//   - Relational: two SQL tables (internal/relational)
//
// The tiered facade (internal/store) composes one authoritative variant with
// the Local variant; providers never write to each other.
package provider

import (
	"context"
	"fmt"

	"github.com/roach88/famcal/internal/record"
)

// Backend names a provider variant. Selected once at startup from config.
type Backend string

const (
	BackendLocal      Backend = "local"
	BackendMemory     Backend = "memory"
	BackendKV         Backend = "kv"
	BackendRelational Backend = "relational"

	// BackendRemote is a facade in another process reached through
	// api.Client. It is never selected from configuration.
	BackendRemote Backend = "remote"
)

// Backends lists every valid backend name.
var Backends = []Backend{BackendLocal, BackendMemory, BackendKV, BackendRelational}

// ParseBackend converts a config string to a Backend.
func ParseBackend(s string) (Backend, error) {
	for _, b := range Backends {
		if string(b) == s {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown backend %q: must be one of %v", s, Backends)
}

// Provider stores the two collections.
//
// Contract shared by all variants:
//   - SaveEvent assigns an ID when absent and upserts by ID.
//   - SaveTask is a no-op returning the name when it already exists.
//   - DeleteEvent/DeleteTask return false, not an error, when nothing matched.
//   - Tasks are returned sorted ascending.
//   - Backend failures are returned as *Error (see errors.go).
type Provider interface {
	Backend() Backend
	Events(ctx context.Context) ([]record.Event, error)
	Tasks(ctx context.Context) ([]string, error)
	SaveEvent(ctx context.Context, e record.Event) (record.Event, error)
	SaveTask(ctx context.Context, name string) (string, error)
	DeleteEvent(ctx context.Context, id string) (bool, error)
	DeleteTask(ctx context.Context, name string) (bool, error)
}

// Pinger is implemented by providers that support a liveness round trip.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dumper is implemented by providers that can return their raw contents,
// bypassing read-time filters.
type Dumper interface {
	Dump(ctx context.Context) ([]record.Event, []string, error)
}
