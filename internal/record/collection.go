package record

import (
	"slices"
	"sort"
)

// UpsertEvent replaces the event with the same ID in place, or appends it.
// Returns the new collection and whether an existing event was replaced.
func UpsertEvent(events []Event, e Event) ([]Event, bool) {
	out := CloneEvents(events)
	for i := range out {
		if out[i].ID == e.ID {
			out[i] = e
			return out, true
		}
	}
	return append(out, e), false
}

// RemoveEvent drops every event with the given ID.
// Returns the new collection and whether anything was removed.
func RemoveEvent(events []Event, id string) ([]Event, bool) {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out, len(out) != len(events)
}

// FindEvent returns the event with the given ID.
func FindEvent(events []Event, id string) (Event, bool) {
	for _, e := range events {
		if e.ID == id {
			return e, true
		}
	}
	return Event{}, false
}

// AddTask appends name if absent (exact match) and returns the sorted set
// and whether name was added.
func AddTask(tasks []string, name string) ([]string, bool) {
	if slices.Contains(tasks, name) {
		return SortTasks(tasks), false
	}
	out := append(CloneTasks(tasks), name)
	return SortTasks(out), true
}

// RemoveTask drops name from the set.
// Returns the new set and whether anything was removed.
func RemoveTask(tasks []string, name string) ([]string, bool) {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if t != name {
			out = append(out, t)
		}
	}
	return out, len(out) != len(tasks)
}

// SortTasks returns a sorted copy with duplicates removed.
func SortTasks(tasks []string) []string {
	out := CloneTasks(tasks)
	sort.Strings(out)
	return slices.Compact(out)
}

// SortEvents returns a copy ordered by date, time, then ID.
func SortEvents(events []Event) []Event {
	out := CloneEvents(events)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// EventsBetween returns events whose date lies in [start, end], inclusive.
// Dates compare lexically, which is chronological for YYYY-MM-DD.
func EventsBetween(events []Event, start, end string) []Event {
	out := []Event{}
	for _, e := range events {
		if e.Date >= start && e.Date <= end {
			out = append(out, e)
		}
	}
	return SortEvents(out)
}

// CountByMember tallies events per member.
func CountByMember(events []Event) map[string]int {
	counts := make(map[string]int)
	for _, e := range events {
		counts[e.Member]++
	}
	return counts
}
