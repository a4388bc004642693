package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/famcal/internal/cache"
	"github.com/roach88/famcal/internal/ident"
	"github.com/roach88/famcal/internal/probe"
	"github.com/roach88/famcal/internal/provider"
	"github.com/roach88/famcal/internal/record"
)

// DefaultTimeout bounds every authoritative call.
const DefaultTimeout = 5 * time.Second

// Calendar is the contract consumed by the request/response boundary and
// the CLI. Implemented in-process by Store and remotely by api.Client.
type Calendar interface {
	Events(ctx context.Context) ([]record.Event, error)
	Tasks(ctx context.Context) ([]string, error)
	SaveEvent(ctx context.Context, e record.Event) (record.Event, error)
	SaveTask(ctx context.Context, name string) (string, error)
	DeleteEvent(ctx context.Context, id string) (bool, error)
	DeleteTask(ctx context.Context, name string) (bool, error)
	Snapshot(ctx context.Context) (record.Snapshot, error)
	Restore(ctx context.Context, snap record.Snapshot) error
	Reset(ctx context.Context) error
	Status(ctx context.Context) (probe.Status, error)
}

// Store is the tiered facade.
type Store struct {
	authority provider.Provider // nil in the local-only deployment
	probe     *probe.Probe
	cache     *cache.Cache
	local     *cache.Local

	gen     ident.Generator
	filter  record.MemberFilter
	timeout time.Duration
	strict  bool
	now     func() time.Time
	logger  *slog.Logger
}

var _ Calendar = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithGenerator sets the ID generator. Default: ident.UUIDv7Generator.
func WithGenerator(g ident.Generator) Option {
	return func(s *Store) {
		s.gen = g
	}
}

// WithMemberFilter sets the allow-list applied to every events read.
func WithMemberFilter(f record.MemberFilter) Option {
	return func(s *Store) {
		s.filter = f
	}
}

// WithTimeout bounds each authoritative call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// WithStrictWrites makes a write rejected by a reachable authority fail
// with PersistenceFailed instead of returning the computed result.
func WithStrictWrites(strict bool) Option {
	return func(s *Store) {
		s.strict = strict
	}
}

// WithClock overrides the time source for snapshot stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New composes authority (nil for local-only) gated by p with the fallback
// cache c. With a nil authority, p may be an unconfigured probe so Status
// names the backend that is missing its configuration.
func New(authority provider.Provider, p *probe.Probe, c *cache.Cache, opts ...Option) *Store {
	s := &Store{
		authority: authority,
		probe:     p,
		cache:     c,
		gen:       ident.UUIDv7Generator{},
		timeout:   DefaultTimeout,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	// Without an authority the probe may only report an unconfigured
	// backend; it must never gate one in.
	if s.probe == nil || (s.authority == nil && s.probe.Configured()) {
		s.probe = probe.Never()
	}
	s.local = cache.NewLocal(c, s.gen, s.filter)
	return s
}

// Backend names the authoritative backend, or local when there is none.
func (s *Store) Backend() provider.Backend {
	if s.authority == nil {
		return provider.BackendLocal
	}
	return s.authority.Backend()
}

// Status reports the probe result for the authoritative backend.
func (s *Store) Status(ctx context.Context) (probe.Status, error) {
	return s.probe.Status(ctx), nil
}

// Events returns the event collection through the read path.
func (s *Store) Events(ctx context.Context) ([]record.Event, error) {
	events := read(ctx, s, "get events",
		func(ctx context.Context) ([]record.Event, error) { return s.authority.Events(ctx) },
		s.local.ReplaceEvents,
		func() []record.Event {
			events, _ := s.local.Events(ctx)
			return events
		},
	)
	return s.filter.Apply(events), nil
}

// Tasks returns the task set through the read path, sorted.
func (s *Store) Tasks(ctx context.Context) ([]string, error) {
	tasks := read(ctx, s, "get tasks",
		func(ctx context.Context) ([]string, error) { return s.authority.Tasks(ctx) },
		s.local.ReplaceTasks,
		func() []string {
			tasks, _ := s.local.Tasks(ctx)
			return tasks
		},
	)
	return record.SortTasks(tasks), nil
}

// ready returns nil when the authority may be used.
func (s *Store) ready(ctx context.Context) error {
	return s.probe.Check(ctx)
}

// bounded derives the context for one authoritative call.
func (s *Store) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// read serves one collection: authority with write-through, else cache.
func read[T any](
	ctx context.Context,
	s *Store,
	op string,
	fromAuthority func(context.Context) (T, error),
	writeThrough func(T) error,
	fromCache func() T,
) T {
	if err := s.ready(ctx); err != nil {
		s.logger.Debug("authority unavailable, reading cache", "op", op, "error", err)
		return fromCache()
	}

	actx, cancel := s.bounded(ctx)
	v, err := fromAuthority(actx)
	cancel()
	if err != nil {
		s.logger.Warn("authoritative read failed, serving cache",
			"op", op, "backend", s.authority.Backend(), "error", err)
		return fromCache()
	}

	if err := writeThrough(v); err != nil {
		s.logger.Warn("cache write-through failed", "op", op, "error", err)
	}
	return v
}
