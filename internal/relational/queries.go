package relational

import (
	"context"

	"github.com/roach88/famcal/internal/ident"
	"github.com/roach88/famcal/internal/provider"
	"github.com/roach88/famcal/internal/record"
)

const (
	insertEventSQL = `
		INSERT INTO events (id, date, time, task, member, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	upsertEventSQL = insertEventSQL + `
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			time = excluded.time,
			task = excluded.task,
			member = excluded.member,
			updated_at = excluded.updated_at`

	insertTaskSQL = `INSERT INTO tasks (task_name, created_at) VALUES (?, ?)`

	selectEventsSQL = `
		SELECT id, date, time, task, member
		FROM events
		ORDER BY date ASC, time ASC, id ASC`

	selectTasksSQL = `SELECT task_name FROM tasks ORDER BY task_name ASC`
)

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Pinger   = (*Provider)(nil)
	_ provider.Dumper   = (*Provider)(nil)
)

// Backend implements provider.Provider.
func (p *Provider) Backend() provider.Backend {
	return provider.BackendRelational
}

// Ping implements provider.Pinger. Used for connection diagnostics only;
// availability of this backend is decided by configuration presence.
func (p *Provider) Ping(ctx context.Context) error {
	return provider.Classify(provider.BackendRelational, "ping", p.db.PingContext(ctx))
}

// Events returns all events ordered by date, time, then id, filtered
// through the member allow-list.
func (p *Provider) Events(ctx context.Context) ([]record.Event, error) {
	events, err := p.queryEvents(ctx)
	if err != nil {
		return nil, err
	}
	return p.filter.Apply(events), nil
}

// Tasks returns the task set, sorted.
func (p *Provider) Tasks(ctx context.Context) ([]string, error) {
	if err := p.ensure(ctx); err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, selectTasksSQL)
	if err != nil {
		return nil, provider.Classify(provider.BackendRelational, "get tasks", err)
	}
	defer rows.Close()

	tasks := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, provider.Classify(provider.BackendRelational, "get tasks", err)
		}
		tasks = append(tasks, name)
	}
	if err := rows.Err(); err != nil {
		return nil, provider.Classify(provider.BackendRelational, "get tasks", err)
	}
	// Collation order varies by database; return byte order.
	return record.SortTasks(tasks), nil
}

// SaveEvent upserts e keyed on id.
func (p *Provider) SaveEvent(ctx context.Context, e record.Event) (record.Event, error) {
	if err := p.ensure(ctx); err != nil {
		return record.Event{}, err
	}

	e.ID = ident.Assign(p.gen, e.ID)
	stamp := p.stamp()
	_, err := p.db.ExecContext(ctx, p.rebind(upsertEventSQL),
		e.ID, e.Date, e.Time, e.Task, e.Member, stamp, stamp)
	if err != nil {
		return record.Event{}, provider.Classify(provider.BackendRelational, "save event", err)
	}
	return e, nil
}

// SaveTask inserts name. A uniqueness violation means the task already
// exists and is reported as success.
func (p *Provider) SaveTask(ctx context.Context, name string) (string, error) {
	if err := p.ensure(ctx); err != nil {
		return "", err
	}

	_, err := p.db.ExecContext(ctx, p.rebind(insertTaskSQL), name, p.stamp())
	if isUniqueViolation(err) {
		p.logger.Debug("task already exists", "task", name)
		return name, nil
	}
	if err != nil {
		return "", provider.Classify(provider.BackendRelational, "save task", err)
	}
	return name, nil
}

// DeleteEvent removes the event with id. Returns false when no row matched.
func (p *Provider) DeleteEvent(ctx context.Context, id string) (bool, error) {
	return p.deleteWhere(ctx, "delete event", "DELETE FROM events WHERE id = ?", id)
}

// DeleteTask removes name. Events referencing it are left alone.
func (p *Provider) DeleteTask(ctx context.Context, name string) (bool, error) {
	return p.deleteWhere(ctx, "delete task", "DELETE FROM tasks WHERE task_name = ?", name)
}

// Dump returns both tables without the member filter.
func (p *Provider) Dump(ctx context.Context) ([]record.Event, []string, error) {
	events, err := p.queryEvents(ctx)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := p.Tasks(ctx)
	if err != nil {
		return nil, nil, err
	}
	return events, tasks, nil
}

func (p *Provider) queryEvents(ctx context.Context) ([]record.Event, error) {
	if err := p.ensure(ctx); err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, selectEventsSQL)
	if err != nil {
		return nil, provider.Classify(provider.BackendRelational, "get events", err)
	}
	defer rows.Close()

	events := []record.Event{}
	for rows.Next() {
		var e record.Event
		if err := rows.Scan(&e.ID, &e.Date, &e.Time, &e.Task, &e.Member); err != nil {
			return nil, provider.Classify(provider.BackendRelational, "get events", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, provider.Classify(provider.BackendRelational, "get events", err)
	}
	return events, nil
}

func (p *Provider) deleteWhere(ctx context.Context, op, query string, arg string) (bool, error) {
	if err := p.ensure(ctx); err != nil {
		return false, err
	}

	res, err := p.db.ExecContext(ctx, p.rebind(query), arg)
	if err != nil {
		return false, provider.Classify(provider.BackendRelational, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, provider.Classify(provider.BackendRelational, op, err)
	}
	return n > 0, nil
}
