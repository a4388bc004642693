package record

import "time"

// DefaultMembers is the roster whose events are returned by filtered reads.
var DefaultMembers = []string{"けんじ", "あい"}

// BootstrapEvents returns the events every empty store is seeded with.
func BootstrapEvents() []Event {
	return []Event{
		{ID: "1", Date: "2025-08-05", Time: "09:00", Task: "仕事", Member: "けんじ"},
		{ID: "2", Date: "2025-08-06", Time: "18:00", Task: "サックス", Member: "あい"},
		{ID: "3", Date: "2025-08-09", Time: "08:00", Task: "テニス", Member: "けんじ"},
	}
}

// BootstrapTasks returns the task set every empty store is seeded with.
func BootstrapTasks() []string {
	return []string{"仕事", "サックス", "テニス"}
}

// Bootstrap returns a fresh snapshot holding the seed data, tagged with the
// current schema version.
func Bootstrap(now time.Time) Snapshot {
	return Snapshot{
		Events:        BootstrapEvents(),
		Tasks:         SortTasks(BootstrapTasks()),
		LastUpdated:   now.UTC(),
		SchemaVersion: SchemaVersion,
	}
}
