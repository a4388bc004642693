package kv

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/famcal/internal/provider"
)

// ErrDown is the cause reported while a MemoryClient is marked unreachable.
var ErrDown = errors.New("memory kv unreachable")

type memEntry struct {
	value   []byte
	version uint64
}

// MemoryClient is a non-persistent CASClient. Each instance owns its own
// state, so tests get isolation by constructing a fresh one.
//
// Failure injection:
//   - SetDown makes every call, Ping included, fail as unreachable
//   - FailReads/FailWrites make the matching calls return the given error
//     while Ping still succeeds (reachable but failing)
//
// Thread-safety: safe for concurrent use via internal mutex.
type MemoryClient struct {
	mu       sync.Mutex
	data     map[string]memEntry
	index    uint64
	down     bool
	readErr  error
	writeErr error
}

var _ CASClient = (*MemoryClient)(nil)

// NewMemoryClient creates an empty client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{data: make(map[string]memEntry)}
}

// SetDown marks the client unreachable (or reachable again).
func (m *MemoryClient) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// FailReads makes Get return err. nil clears the injection.
func (m *MemoryClient) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// FailWrites makes Put and CompareAndSwap return err. nil clears the injection.
func (m *MemoryClient) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Raw returns the bytes stored under key, bypassing failure injection.
func (m *MemoryClient) Raw(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.value...), true
}

// Get implements Client.
func (m *MemoryClient) Get(ctx context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(ctx, "get"); err != nil {
		return nil, err
	}
	if m.readErr != nil {
		return nil, m.readErr
	}
	e, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return &Entry{Value: append([]byte(nil), e.value...), Version: e.version}, nil
}

// Put implements Client.
func (m *MemoryClient) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(ctx, "put"); err != nil {
		return err
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.storeLocked(key, value)
	return nil
}

// CompareAndSwap implements CASClient.
func (m *MemoryClient) CompareAndSwap(ctx context.Context, key string, value []byte, version uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(ctx, "cas"); err != nil {
		return false, err
	}
	if m.writeErr != nil {
		return false, m.writeErr
	}
	if m.data[key].version != version {
		return false, nil
	}
	m.storeLocked(key, value)
	return true, nil
}

// Ping implements Client.
func (m *MemoryClient) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkLocked(ctx, "ping")
}

func (m *MemoryClient) checkLocked(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.down {
		return provider.Unavailable(provider.BackendMemory, op, ErrDown)
	}
	return nil
}

func (m *MemoryClient) storeLocked(key string, value []byte) {
	m.index++
	m.data[key] = memEntry{value: append([]byte(nil), value...), version: m.index}
}
