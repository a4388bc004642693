// Package cache implements the fallback tier: a durable, synchronous,
// local-only snapshot store with no network dependency.
//
// The whole snapshot lives in one JSON file named after Key inside the
// configured directory. Migration is whole-snapshot replacement: a snapshot
// that is absent, undecodable, or tagged with another schema version is
// discarded and reseeded with bootstrap data.
//
// The filesystem is an afero.Fs so tests (and ephemeral deployments) can run
// on afero.NewMemMapFs. Sharing one cache file between processes is not
// supported.
package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/roach88/famcal/internal/provider"
	"github.com/roach88/famcal/internal/record"
)

// Key is the fixed name the snapshot is persisted under.
const Key = "family-calendar-data"

// Cache is the snapshot store.
//
// Thread-safety: all methods serialize on an internal mutex, so one Cache
// may be shared by every request of a process.
type Cache struct {
	fs     afero.Fs
	path   string
	now    func() time.Time
	logger *slog.Logger

	mu sync.Mutex
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// New creates a cache persisting under dir on fsys.
// Nothing is read or written until first access.
func New(fsys afero.Fs, dir string, opts ...Option) *Cache {
	c := &Cache{
		fs:     fsys,
		path:   filepath.Join(dir, Key+".json"),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Path returns the snapshot file location.
func (c *Cache) Path() string {
	return c.path
}

// Get returns the current snapshot, initializing it on first access.
// Never fails: an unreadable snapshot is replaced with bootstrap data.
func (c *Cache) Get() record.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked().Clone()
}

// Set persists snap as the current snapshot, stamping LastUpdated and the
// current schema version.
func (c *Cache) Set(snap record.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(snap)
}

// Update applies fn to the current snapshot and persists the result.
// If fn returns an error nothing is written.
func (c *Cache) Update(fn func(*record.Snapshot) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.loadLocked().Clone()
	if err := fn(&snap); err != nil {
		return err
	}
	return c.writeLocked(snap)
}

// Reset replaces the snapshot with bootstrap data.
func (c *Cache) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("resetting cache to bootstrap data", "path", c.path)
	return c.writeLocked(record.Bootstrap(c.now()))
}

// loadLocked reads the persisted snapshot, reseeding when it is absent,
// corrupt, or from another schema version. Caller must hold c.mu.
func (c *Cache) loadLocked() record.Snapshot {
	snap, err := c.readLocked()
	switch {
	case err == nil && snap.SchemaVersion == record.SchemaVersion:
		return snap
	case err == nil:
		c.logger.Info("cache schema version mismatch, reseeding",
			"path", c.path, "found", snap.SchemaVersion, "want", record.SchemaVersion)
	case errors.Is(err, fs.ErrNotExist):
		c.logger.Debug("cache absent, seeding", "path", c.path)
	default:
		c.logger.Warn("cache unreadable, reseeding", "path", c.path, "error", err)
	}

	seed := record.Bootstrap(c.now())
	if err := c.writeLocked(seed); err != nil {
		// The seed is still served from memory; the next access retries.
		c.logger.Error("failed to persist seeded cache", "path", c.path, "error", err)
	}
	return seed
}

// readLocked decodes the snapshot file. Caller must hold c.mu.
func (c *Cache) readLocked() (record.Snapshot, error) {
	data, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		return record.Snapshot{}, err
	}

	var snap record.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return record.Snapshot{}, provider.CorruptCache("read cache", err)
	}
	if snap.Events == nil {
		snap.Events = []record.Event{}
	}
	if snap.Tasks == nil {
		snap.Tasks = []string{}
	}
	return snap, nil
}

// writeLocked persists snap via write-to-temp then rename, so a crash never
// leaves a half-written snapshot behind. Caller must hold c.mu.
func (c *Cache) writeLocked(snap record.Snapshot) error {
	snap.LastUpdated = c.now().UTC()
	snap.SchemaVersion = record.SchemaVersion
	snap.Tasks = record.SortTasks(snap.Tasks)
	if snap.Events == nil {
		snap.Events = []record.Event{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap); err != nil {
		return provider.CorruptCache("encode cache", err)
	}

	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return provider.Operation(provider.BackendLocal, "write cache", err)
	}
	tmp := c.path + ".tmp"
	if err := afero.WriteFile(c.fs, tmp, buf.Bytes(), 0o600); err != nil {
		return provider.Operation(provider.BackendLocal, "write cache", err)
	}
	if err := c.fs.Rename(tmp, c.path); err != nil {
		return provider.Operation(provider.BackendLocal, "write cache", fmt.Errorf("rename: %w", err))
	}
	return nil
}
