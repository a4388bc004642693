package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/roach88/famcal/internal/ident"
	"github.com/roach88/famcal/internal/provider"
	"github.com/roach88/famcal/internal/record"
)

// Keys the two collections are stored under.
const (
	EventsKey = "family-calendar:events"
	TasksKey  = "family-calendar:tasks"
)

// DefaultCASAttempts bounds the compare-and-swap retry loop.
const DefaultCASAttempts = 5

// Provider is the remote KV provider.
//
// An absent key reads as the bootstrap seed, and the seed is persisted on
// first read. Events are filtered through the member allow-list on read;
// writes always operate on the unfiltered blob so hidden events survive.
type Provider struct {
	client      Client
	backend     provider.Backend
	gen         ident.Generator
	filter      record.MemberFilter
	logger      *slog.Logger
	cas         bool
	casAttempts int
}

// Option configures a Provider.
type Option func(*Provider)

// WithBackend overrides the reported backend name (BackendMemory for the
// in-process client).
func WithBackend(b provider.Backend) Option {
	return func(p *Provider) {
		p.backend = b
	}
}

// WithGenerator sets the ID generator. Default: ident.UUIDv7Generator.
func WithGenerator(g ident.Generator) Option {
	return func(p *Provider) {
		p.gen = g
	}
}

// WithMemberFilter sets the read-time allow-list. Default: everyone.
func WithMemberFilter(f record.MemberFilter) Option {
	return func(p *Provider) {
		p.filter = f
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = l
	}
}

// WithCAS turns on compare-and-swap writes when the client supports them.
// Ignored for clients that are not a CASClient.
func WithCAS(enabled bool) Option {
	return func(p *Provider) {
		p.cas = enabled
	}
}

// New creates a provider over client.
func New(client Client, opts ...Option) *Provider {
	p := &Provider{
		client:      client,
		backend:     provider.BackendKV,
		gen:         ident.UUIDv7Generator{},
		logger:      slog.Default(),
		casAttempts: DefaultCASAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	if _, ok := client.(CASClient); p.cas && !ok {
		p.logger.Warn("kv client has no version token, compare-and-swap disabled", "backend", p.backend)
		p.cas = false
	}
	return p
}

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Pinger   = (*Provider)(nil)
	_ provider.Dumper   = (*Provider)(nil)
)

// Backend implements provider.Provider.
func (p *Provider) Backend() provider.Backend {
	return p.backend
}

// Ping implements provider.Pinger.
func (p *Provider) Ping(ctx context.Context) error {
	return provider.Classify(p.backend, "ping", p.client.Ping(ctx))
}

// Events implements provider.Provider.
func (p *Provider) Events(ctx context.Context) ([]record.Event, error) {
	events, err := read(ctx, p, EventsKey, record.BootstrapEvents)
	if err != nil {
		return nil, err
	}
	return p.filter.Apply(events), nil
}

// Tasks implements provider.Provider.
func (p *Provider) Tasks(ctx context.Context) ([]string, error) {
	tasks, err := read(ctx, p, TasksKey, record.BootstrapTasks)
	if err != nil {
		return nil, err
	}
	return record.SortTasks(tasks), nil
}

// SaveEvent implements provider.Provider.
func (p *Provider) SaveEvent(ctx context.Context, e record.Event) (record.Event, error) {
	e.ID = ident.Assign(p.gen, e.ID)
	err := modify(ctx, p, "save event", EventsKey, record.BootstrapEvents, func(events []record.Event) ([]record.Event, bool) {
		out, _ := record.UpsertEvent(events, e)
		return out, true
	})
	if err != nil {
		return record.Event{}, err
	}
	return e, nil
}

// SaveTask implements provider.Provider.
func (p *Provider) SaveTask(ctx context.Context, name string) (string, error) {
	err := modify(ctx, p, "save task", TasksKey, record.BootstrapTasks, func(tasks []string) ([]string, bool) {
		return record.AddTask(tasks, name)
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// DeleteEvent implements provider.Provider.
func (p *Provider) DeleteEvent(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := modify(ctx, p, "delete event", EventsKey, record.BootstrapEvents, func(events []record.Event) ([]record.Event, bool) {
		var out []record.Event
		out, removed = record.RemoveEvent(events, id)
		return out, removed
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// DeleteTask implements provider.Provider.
func (p *Provider) DeleteTask(ctx context.Context, name string) (bool, error) {
	var removed bool
	err := modify(ctx, p, "delete task", TasksKey, record.BootstrapTasks, func(tasks []string) ([]string, bool) {
		var out []string
		out, removed = record.RemoveTask(tasks, name)
		return out, removed
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// Dump implements provider.Dumper: both blobs, unfiltered.
func (p *Provider) Dump(ctx context.Context) ([]record.Event, []string, error) {
	events, err := read(ctx, p, EventsKey, record.BootstrapEvents)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := read(ctx, p, TasksKey, record.BootstrapTasks)
	if err != nil {
		return nil, nil, err
	}
	return events, tasks, nil
}

// read returns the collection under key, persisting seed() when absent.
func read[T any](ctx context.Context, p *Provider, key string, seed func() []T) ([]T, error) {
	op := "get " + key
	p.logger.Debug("kv read", "backend", p.backend, "key", key)

	items, _, absent, err := load[T](ctx, p, op, key)
	if err != nil {
		return nil, err
	}
	if !absent {
		return items, nil
	}

	items = seed()
	data, err := encode(items)
	if err != nil {
		return nil, provider.Operation(p.backend, op, err)
	}
	if err := p.write(ctx, key, data, 0); err != nil {
		return nil, provider.Classify(p.backend, "seed "+key, err)
	}
	p.logger.Info("seeded kv key", "backend", p.backend, "key", key)
	return items, nil
}

// modify runs the read-modify-write cycle for key. fn reports whether it
// changed anything; unchanged collections are not written back.
func modify[T any](ctx context.Context, p *Provider, op, key string, seed func() []T, fn func([]T) ([]T, bool)) error {
	attempts := 1
	if p.cas {
		attempts = p.casAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		items, version, absent, err := load[T](ctx, p, op, key)
		if err != nil {
			return err
		}
		if absent {
			items = seed()
		}

		updated, changed := fn(items)
		if !changed && !absent {
			return nil
		}

		data, err := encode(updated)
		if err != nil {
			return provider.Operation(p.backend, op, err)
		}

		if !p.cas {
			return provider.Classify(p.backend, op, p.client.Put(ctx, key, data))
		}
		ok, err := p.client.(CASClient).CompareAndSwap(ctx, key, data, version)
		if err != nil {
			return provider.Classify(p.backend, op, err)
		}
		if ok {
			return nil
		}
		p.logger.Debug("kv compare-and-swap lost, retrying", "key", key, "attempt", attempt)
	}
	return provider.Operation(p.backend, op, fmt.Errorf("%w after %d attempts", ErrVersionConflict, attempts))
}

func load[T any](ctx context.Context, p *Provider, op, key string) (items []T, version uint64, absent bool, err error) {
	entry, err := p.client.Get(ctx, key)
	if err != nil {
		return nil, 0, false, provider.Classify(p.backend, op, err)
	}
	if entry == nil {
		return nil, 0, true, nil
	}
	if err := json.Unmarshal(entry.Value, &items); err != nil {
		return nil, 0, false, provider.Operation(p.backend, op, fmt.Errorf("decode %s: %w", key, err))
	}
	if items == nil {
		items = []T{}
	}
	return items, entry.Version, false, nil
}

func (p *Provider) write(ctx context.Context, key string, data []byte, version uint64) error {
	if !p.cas {
		return p.client.Put(ctx, key, data)
	}
	// A lost race means another writer seeded first; nothing to do.
	_, err := p.client.(CASClient).CompareAndSwap(ctx, key, data, version)
	return err
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode blob: %w", err)
	}
	return data, nil
}
