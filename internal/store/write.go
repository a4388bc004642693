package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/famcal/internal/ident"
	"github.com/roach88/famcal/internal/provider"
	"github.com/roach88/famcal/internal/record"
)

// mutation is one logical write expressed against both tiers.
type mutation[T any] struct {
	op        string
	authority func(context.Context) (T, error)
	cache     func(context.Context) (T, error)
	computed  T // returned when the authority rejected the write
}

// write runs m through the tiers.
func write[T any](ctx context.Context, s *Store, m mutation[T]) (T, error) {
	var zero T

	unavailable := s.ready(ctx)
	if unavailable == nil {
		actx, cancel := s.bounded(ctx)
		v, err := m.authority(actx)
		cancel()

		switch {
		case err == nil:
			if _, cerr := m.cache(ctx); cerr != nil {
				s.logger.Warn("cache update failed after authoritative write", "op", m.op, "error", cerr)
			}
			return v, nil
		case provider.IsUnavailable(err) && ctx.Err() != nil:
			return zero, fmt.Errorf("%s: %w", m.op, ctx.Err())
		case provider.IsUnavailable(err):
			s.logger.Warn("authority unreachable during write, writing cache only",
				"op", m.op, "backend", s.authority.Backend(), "error", err)
			unavailable = err
		default:
			if s.strict {
				return zero, provider.PersistenceFailed(m.op, err)
			}
			s.logger.Warn("authoritative write rejected, cache left unchanged",
				"op", m.op, "backend", s.authority.Backend(), "error", err)
			return m.computed, nil
		}
	} else {
		s.logger.Debug("authority unavailable, writing cache only", "op", m.op, "error", unavailable)
	}

	v, err := m.cache(ctx)
	if err != nil {
		s.logger.Error("write rejected by every tier", "op", m.op, "error", err)
		return zero, provider.PersistenceFailed(m.op, unavailable, err)
	}
	return v, nil
}

// SaveEvent upserts e, assigning an ID when absent, and adds its task to
// the task set. Fields are stored as given; callers normalize user input.
func (s *Store) SaveEvent(ctx context.Context, e record.Event) (record.Event, error) {
	if err := record.Validate(e); err != nil {
		return record.Event{}, err
	}
	e.ID = ident.Assign(s.gen, e.ID)

	prev, existed := record.FindEvent(s.cache.Get().Events, e.ID)

	saved, err := s.saveEvent(ctx, e)
	if err != nil {
		return record.Event{}, err
	}

	if _, err := s.SaveTask(ctx, saved.Task); err != nil {
		s.logger.Warn("task write failed, rolling back event", "id", saved.ID, "task", saved.Task, "error", err)
		var rollbackErr error
		if existed {
			_, rollbackErr = s.saveEvent(ctx, prev)
		} else {
			_, rollbackErr = s.deleteEvent(ctx, saved.ID)
		}
		return record.Event{}, provider.PersistenceFailed("save event", err, rollbackErr)
	}
	return saved, nil
}

func (s *Store) saveEvent(ctx context.Context, e record.Event) (record.Event, error) {
	return write(ctx, s, mutation[record.Event]{
		op:        "save event",
		authority: func(ctx context.Context) (record.Event, error) { return s.authority.SaveEvent(ctx, e) },
		cache:     func(ctx context.Context) (record.Event, error) { return s.local.SaveEvent(ctx, e) },
		computed:  e,
	})
}

// SaveTask adds name to the task set. Saving an existing name is a no-op
// returning the name. Names match exactly.
func (s *Store) SaveTask(ctx context.Context, name string) (string, error) {
	if err := record.ValidateTask(name); err != nil {
		return "", err
	}
	return write(ctx, s, mutation[string]{
		op:        "save task",
		authority: func(ctx context.Context) (string, error) { return s.authority.SaveTask(ctx, name) },
		cache:     func(ctx context.Context) (string, error) { return s.local.SaveTask(ctx, name) },
		computed:  name,
	})
}

// DeleteEvent removes the event with id. Returns false when it did not exist.
func (s *Store) DeleteEvent(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: event id is required", record.ErrInvalid)
	}
	return s.deleteEvent(ctx, id)
}

func (s *Store) deleteEvent(ctx context.Context, id string) (bool, error) {
	_, present := record.FindEvent(s.cache.Get().Events, id)
	return write(ctx, s, mutation[bool]{
		op:        "delete event",
		authority: func(ctx context.Context) (bool, error) { return s.authority.DeleteEvent(ctx, id) },
		cache:     func(ctx context.Context) (bool, error) { return s.local.DeleteEvent(ctx, id) },
		computed:  present,
	})
}

// DeleteTask removes name from the task set. Events referencing it are left
// alone. Returns false when it did not exist.
func (s *Store) DeleteTask(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("%w: task name is required", record.ErrInvalid)
	}
	present := slices.Contains(s.cache.Get().Tasks, name)
	return write(ctx, s, mutation[bool]{
		op:        "delete task",
		authority: func(ctx context.Context) (bool, error) { return s.authority.DeleteTask(ctx, name) },
		cache:     func(ctx context.Context) (bool, error) { return s.local.DeleteTask(ctx, name) },
		computed:  present,
	})
}
