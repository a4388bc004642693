package cache

import (
	"context"
	"errors"

	"github.com/roach88/famcal/internal/ident"
	"github.com/roach88/famcal/internal/provider"
	"github.com/roach88/famcal/internal/record"
)

// Local is the local-only Provider variant: the collection rules of
// internal/record applied to the cached snapshot.
//
// Reads never fail. Writes fail only when the snapshot cannot be persisted.
type Local struct {
	cache  *Cache
	gen    ident.Generator
	filter record.MemberFilter
}

// NewLocal wraps c as a Provider. Events are filtered through filter on read.
func NewLocal(c *Cache, gen ident.Generator, filter record.MemberFilter) *Local {
	return &Local{cache: c, gen: gen, filter: filter}
}

var (
	_ provider.Provider = (*Local)(nil)
	_ provider.Dumper   = (*Local)(nil)
)

// Backend implements provider.Provider.
func (l *Local) Backend() provider.Backend {
	return provider.BackendLocal
}

// Events returns the cached events visible through the member filter.
func (l *Local) Events(context.Context) ([]record.Event, error) {
	return l.filter.Apply(l.cache.Get().Events), nil
}

// Tasks returns the cached task set, sorted.
func (l *Local) Tasks(context.Context) ([]string, error) {
	return record.SortTasks(l.cache.Get().Tasks), nil
}

// SaveEvent upserts e into the cached snapshot.
func (l *Local) SaveEvent(_ context.Context, e record.Event) (record.Event, error) {
	e.ID = ident.Assign(l.gen, e.ID)
	err := l.cache.Update(func(snap *record.Snapshot) error {
		snap.Events, _ = record.UpsertEvent(snap.Events, e)
		return nil
	})
	if err != nil {
		return record.Event{}, err
	}
	return e, nil
}

// SaveTask adds name to the cached task set if absent.
func (l *Local) SaveTask(_ context.Context, name string) (string, error) {
	if _, added := record.AddTask(l.cache.Get().Tasks, name); !added {
		return name, nil
	}
	err := l.cache.Update(func(snap *record.Snapshot) error {
		snap.Tasks, _ = record.AddTask(snap.Tasks, name)
		return nil
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// DeleteEvent removes the event with id. Returns false when absent.
func (l *Local) DeleteEvent(_ context.Context, id string) (bool, error) {
	var removed bool
	err := l.cache.Update(func(snap *record.Snapshot) error {
		snap.Events, removed = record.RemoveEvent(snap.Events, id)
		if !removed {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteTask removes name from the task set. Returns false when absent.
// Events referencing the task are left alone.
func (l *Local) DeleteTask(_ context.Context, name string) (bool, error) {
	var removed bool
	err := l.cache.Update(func(snap *record.Snapshot) error {
		snap.Tasks, removed = record.RemoveTask(snap.Tasks, name)
		if !removed {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Dump returns the cached collections without the member filter.
func (l *Local) Dump(context.Context) ([]record.Event, []string, error) {
	snap := l.cache.Get()
	return snap.Events, snap.Tasks, nil
}

// ReplaceEvents overwrites the cached events with the result of an
// authoritative read.
func (l *Local) ReplaceEvents(events []record.Event) error {
	return l.cache.Update(func(snap *record.Snapshot) error {
		snap.Events = record.CloneEvents(events)
		return nil
	})
}

// ReplaceTasks overwrites the cached task set with the result of an
// authoritative read.
func (l *Local) ReplaceTasks(tasks []string) error {
	return l.cache.Update(func(snap *record.Snapshot) error {
		snap.Tasks = record.SortTasks(tasks)
		return nil
	})
}

// errNoChange aborts an Update without writing.
var errNoChange = errors.New("no change")
