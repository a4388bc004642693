// Package kv implements the remote key-value provider.
//
// The provider keeps each collection as one opaque JSON blob under a fixed
// key and implements upsert and delete as read-modify-write of the whole
// blob. Without compare-and-swap two concurrent writers race and the last
// one to finish wins. WithCAS closes that gap on clients that carry a
// version token.
//
// Clients:
//   - RESTClient: the Vercel KV / Upstash REST wire shape
//   - ConsulClient: Consul's KV store
//   - MemoryClient: in-process, one instance per store, with failure injection
package kv

import (
	"context"
	"errors"
)

// Entry is a stored value with its version token.
// Version 0 means the client does not track versions.
type Entry struct {
	Value   []byte
	Version uint64
}

// Client is the minimal key-value surface the provider needs.
type Client interface {
	// Get returns the entry under key, or nil with no error when absent.
	Get(ctx context.Context, key string) (*Entry, error)

	// Put stores value under key unconditionally.
	Put(ctx context.Context, key string, value []byte) error

	// Ping performs a trivial round trip.
	Ping(ctx context.Context) error
}

// CASClient is a Client with optimistic concurrency.
type CASClient interface {
	Client

	// CompareAndSwap stores value only if the entry's version still equals
	// version. Version 0 means "only if absent". Reports whether the write
	// happened.
	CompareAndSwap(ctx context.Context, key string, value []byte, version uint64) (bool, error)
}

// ErrVersionConflict is returned when compare-and-swap retries run out.
var ErrVersionConflict = errors.New("version conflict")
