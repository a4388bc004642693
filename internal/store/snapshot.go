package store

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/famcal/internal/provider"
	"github.com/roach88/famcal/internal/record"
)

// Snapshot reads both collections through the read path.
func (s *Store) Snapshot(ctx context.Context) (record.Snapshot, error) {
	var (
		events []record.Event
		tasks  []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, err = s.Events(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		tasks, err = s.Tasks(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return record.Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}

	return record.Snapshot{
		Events:        events,
		Tasks:         tasks,
		LastUpdated:   s.now().UTC(),
		SchemaVersion: record.SchemaVersion,
	}, nil
}

// Dump returns both collections without the member filter: from the
// authority when it is usable and can dump, otherwise from the cache.
func (s *Store) Dump(ctx context.Context) (record.Snapshot, error) {
	snap := record.Snapshot{LastUpdated: s.now().UTC(), SchemaVersion: record.SchemaVersion}

	if d, ok := s.authority.(provider.Dumper); ok && s.ready(ctx) == nil {
		actx, cancel := s.bounded(ctx)
		events, tasks, err := d.Dump(actx)
		cancel()
		if err == nil {
			snap.Events, snap.Tasks = events, record.SortTasks(tasks)
			return snap, nil
		}
		s.logger.Warn("authoritative dump failed, dumping cache", "backend", s.authority.Backend(), "error", err)
	}

	events, tasks, err := s.local.Dump(ctx)
	if err != nil {
		return record.Snapshot{}, fmt.Errorf("dump: %w", err)
	}
	snap.Events, snap.Tasks = events, record.SortTasks(tasks)
	return snap, nil
}

// Restore makes the visible collections equal to snap by applying the
// difference as ordinary writes, so each one follows the write path.
// Events are applied before tasks: saving an event adds its task, and the
// final task pass removes whatever snap does not list.
//
// When any write fails the cache is put back to its state before the
// restore. Writes the authority already accepted are not reverted, so a
// failed restore may leave the authority partly updated.
func (s *Store) Restore(ctx context.Context, snap record.Snapshot) error {
	if snap.SchemaVersion != record.SchemaVersion {
		return fmt.Errorf("%w: snapshot version %d, want %d", record.ErrInvalid, snap.SchemaVersion, record.SchemaVersion)
	}
	for _, e := range snap.Events {
		if e.ID == "" {
			return fmt.Errorf("%w: snapshot event without id", record.ErrInvalid)
		}
		if err := record.Validate(e); err != nil {
			return fmt.Errorf("restore event %s: %w", e.ID, err)
		}
	}

	prev := s.cache.Get()
	var merr *multierror.Error

	keepEvents := make(map[string]struct{}, len(snap.Events))
	for _, e := range snap.Events {
		keepEvents[e.ID] = struct{}{}
	}
	current, _ := s.Events(ctx)
	for _, e := range current {
		if _, ok := keepEvents[e.ID]; ok {
			continue
		}
		if _, err := s.DeleteEvent(ctx, e.ID); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("delete event %s: %w", e.ID, err))
		}
	}
	for _, e := range snap.Events {
		if _, err := s.SaveEvent(ctx, e); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("save event %s: %w", e.ID, err))
		}
	}

	keepTasks := make(map[string]struct{}, len(snap.Tasks))
	for _, name := range snap.Tasks {
		keepTasks[name] = struct{}{}
		if _, err := s.SaveTask(ctx, name); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("save task %s: %w", name, err))
		}
	}
	tasks, _ := s.Tasks(ctx)
	for _, name := range tasks {
		if _, ok := keepTasks[name]; ok {
			continue
		}
		if _, err := s.DeleteTask(ctx, name); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("delete task %s: %w", name, err))
		}
	}

	if err := merr.ErrorOrNil(); err != nil {
		if cerr := s.cache.Set(prev); cerr != nil {
			err = multierror.Append(err, fmt.Errorf("roll back cache: %w", cerr))
		}
		s.logger.Warn("restore failed, cache rolled back", "error", err)
		return fmt.Errorf("restore: %w", err)
	}
	s.logger.Info("snapshot restored", "events", len(snap.Events), "tasks", len(snap.Tasks))
	return nil
}

// Refresh re-reads both collections from the authority and writes them
// through to the cache. Unlike the read path it reports failures.
func (s *Store) Refresh(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		actx, cancel := s.bounded(gctx)
		defer cancel()
		events, err := s.authority.Events(actx)
		if err != nil {
			return err
		}
		return s.local.ReplaceEvents(events)
	})
	g.Go(func() error {
		actx, cancel := s.bounded(gctx)
		defer cancel()
		tasks, err := s.authority.Tasks(actx)
		if err != nil {
			return err
		}
		return s.local.ReplaceTasks(tasks)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	s.logger.Debug("cache refreshed from authority", "backend", s.authority.Backend())
	return nil
}

// Reset replaces the cached snapshot with bootstrap data. The authority is
// not touched.
func (s *Store) Reset(context.Context) error {
	if err := s.cache.Reset(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}
