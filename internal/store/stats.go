package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/famcal/internal/record"
)

// EventReader is the read side needed for statistics.
type EventReader interface {
	Events(ctx context.Context) ([]record.Event, error)
}

// Stats summarizes the event collection.
type Stats struct {
	Total     int            `json:"total"`
	ThisMonth int            `json:"thisMonth"`
	ByMember  map[string]int `json:"byMember"`
	First     string         `json:"first,omitempty"` // earliest date
	Last      string         `json:"last,omitempty"`  // latest date
}

// EventsInRange returns events dated within [start, end], inclusive,
// ordered by date and time.
func EventsInRange(ctx context.Context, r EventReader, start, end string) ([]record.Event, error) {
	if _, err := time.Parse(record.DateLayout, start); err != nil {
		return nil, fmt.Errorf("%w: start date %q", record.ErrInvalid, start)
	}
	if _, err := time.Parse(record.DateLayout, end); err != nil {
		return nil, fmt.Errorf("%w: end date %q", record.ErrInvalid, end)
	}
	if start > end {
		return nil, fmt.Errorf("%w: start %s is after end %s", record.ErrInvalid, start, end)
	}

	events, err := r.Events(ctx)
	if err != nil {
		return nil, fmt.Errorf("events in range: %w", err)
	}
	return record.EventsBetween(events, start, end), nil
}

// ComputeStats summarizes the events visible through r. ThisMonth counts
// events in the calendar month containing now.
func ComputeStats(ctx context.Context, r EventReader, now time.Time) (Stats, error) {
	events, err := r.Events(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("compute stats: %w", err)
	}

	month := now.Format("2006-01")
	st := Stats{Total: len(events), ByMember: record.CountByMember(events)}
	for _, e := range events {
		if len(e.Date) >= len(month) && e.Date[:len(month)] == month {
			st.ThisMonth++
		}
		if st.First == "" || e.Date < st.First {
			st.First = e.Date
		}
		if e.Date > st.Last {
			st.Last = e.Date
		}
	}
	return st, nil
}
