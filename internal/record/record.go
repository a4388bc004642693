package record

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// SchemaVersion is the snapshot layout version. A persisted snapshot with a
// different version is discarded and reseeded.
const SchemaVersion = 1

// Layouts for the date and time fields.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Event is a single calendar entry.
type Event struct {
	ID     string `json:"id"`
	Date   string `json:"date"`   // YYYY-MM-DD
	Time   string `json:"time"`   // HH:MM, 24-hour
	Task   string `json:"task"`   // must name an entry of the task set
	Member string `json:"member"` // responsible person
}

// Snapshot is the full state of both collections plus metadata.
// It is the unit of cache persistence, migration, and export/import.
type Snapshot struct {
	Events        []Event   `json:"events"`
	Tasks         []string  `json:"tasks"`
	LastUpdated   time.Time `json:"lastUpdated"`
	SchemaVersion int       `json:"version"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Events:        CloneEvents(s.Events),
		Tasks:         CloneTasks(s.Tasks),
		LastUpdated:   s.LastUpdated,
		SchemaVersion: s.SchemaVersion,
	}
}

// CloneEvents copies an event slice. Returns an empty slice, never nil.
func CloneEvents(events []Event) []Event {
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// CloneTasks copies a task slice. Returns an empty slice, never nil.
func CloneTasks(tasks []string) []string {
	out := make([]string, len(tasks))
	copy(out, tasks)
	return out
}

// NormalizeEvent trims and NFC-normalizes every text field. Apply it to
// user input before a save, never to keys of records already stored.
func NormalizeEvent(e Event) Event {
	return Event{
		ID:     normalize(e.ID),
		Date:   normalize(e.Date),
		Time:   normalize(e.Time),
		Task:   normalize(e.Task),
		Member: normalize(e.Member),
	}
}

// NormalizeTask trims and NFC-normalizes a task name.
func NormalizeTask(name string) string {
	return normalize(name)
}

func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// ErrInvalid marks input rejected by Validate or ValidateTask.
var ErrInvalid = errors.New("invalid record")

// Validate reports malformed events: bad date or time layout, or an empty
// task or member. Minute granularity is a UI concern and is not checked.
func Validate(e Event) error {
	if _, err := time.Parse(DateLayout, e.Date); err != nil {
		return fmt.Errorf("%w: date %q: want YYYY-MM-DD", ErrInvalid, e.Date)
	}
	if _, err := time.Parse(TimeLayout, e.Time); err != nil {
		return fmt.Errorf("%w: time %q: want HH:MM", ErrInvalid, e.Time)
	}
	if strings.TrimSpace(e.Task) == "" {
		return fmt.Errorf("%w: task is required", ErrInvalid)
	}
	if strings.TrimSpace(e.Member) == "" {
		return fmt.Errorf("%w: member is required", ErrInvalid)
	}
	return nil
}

// ValidateTask rejects empty or blank task names. It never rewrites name.
func ValidateTask(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: task name is required", ErrInvalid)
	}
	return nil
}
