package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/famcal/internal/record"
	"github.com/roach88/famcal/internal/store"
)

// NewEventsCommand creates the events command group.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List, save and delete calendar events",
		Args:  cobra.NoArgs,
	}

	cmd.AddCommand(newEventsListCommand(rootOpts))
	cmd.AddCommand(newEventsRangeCommand(rootOpts))
	cmd.AddCommand(newEventsSaveCommand(rootOpts))
	cmd.AddCommand(newEventsDeleteCommand(rootOpts))
	cmd.AddCommand(newEventsStatsCommand(rootOpts))
	return cmd
}

func newEventsListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List visible events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			return withCalendar(cmd.Context(), opts, f, func(ctx context.Context, cal calendar) error {
				events, err := cal.Events(ctx)
				if err != nil {
					return f.Fail("list events", err)
				}
				return f.Emit(events, func(w io.Writer) { printEvents(w, events) })
			})
		},
	}
}

func newEventsRangeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "range <start> <end>",
		Short:   "List events dated between start and end inclusive",
		Example: `  famcal events range 2025-08-01 2025-08-31`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			return withCalendar(cmd.Context(), opts, f, func(ctx context.Context, cal calendar) error {
				events, err := store.EventsInRange(ctx, cal, args[0], args[1])
				if err != nil {
					return f.Fail("list events", err)
				}
				return f.Emit(events, func(w io.Writer) { printEvents(w, events) })
			})
		},
	}
}

func newEventsSaveCommand(opts *RootOptions) *cobra.Command {
	var e record.Event

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or update an event",
		Long: `Create or update an event.

Without --id a new event is created. With --id the event with that ID is
replaced, or created under that ID when absent. The event's task is added
to the task list.`,
		Example: `  famcal events save --date 2025-08-20 --time 07:30 --task ピアノ --member あい`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			return withCalendar(cmd.Context(), opts, f, func(ctx context.Context, cal calendar) error {
				saved, err := cal.SaveEvent(ctx, record.NormalizeEvent(e))
				if err != nil {
					return f.Fail("save event", err)
				}
				return f.Emit(saved, func(w io.Writer) {
					fmt.Fprintf(w, "Saved %s\n", formatEvent(saved))
				})
			})
		},
	}

	cmd.Flags().StringVar(&e.ID, "id", "", "event ID (default: assign a new one)")
	cmd.Flags().StringVar(&e.Date, "date", "", "date as YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&e.Time, "time", "", "time as HH:MM (required)")
	cmd.Flags().StringVar(&e.Task, "task", "", "task name (required)")
	cmd.Flags().StringVar(&e.Member, "member", "", "family member (required)")
	for _, name := range []string{"date", "time", "task", "member"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newEventsDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an event by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			return withCalendar(cmd.Context(), opts, f, func(ctx context.Context, cal calendar) error {
				deleted, err := cal.DeleteEvent(ctx, args[0])
				if err != nil {
					return f.Fail("delete event", err)
				}
				return f.Emit(deletion{ID: args[0], Deleted: deleted}, func(w io.Writer) {
					printDeletion(w, "event", args[0], deleted)
				})
			})
		},
	}
}

func newEventsStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize visible events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			return withCalendar(cmd.Context(), opts, f, func(ctx context.Context, cal calendar) error {
				st, err := store.ComputeStats(ctx, cal, time.Now())
				if err != nil {
					return f.Fail("compute stats", err)
				}
				return f.Emit(st, func(w io.Writer) { printStats(w, st) })
			})
		},
	}
}

// deletion is the JSON payload of the delete commands.
type deletion struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Deleted bool   `json:"deleted"`
}

func formatEvent(e record.Event) string {
	return fmt.Sprintf("%s %s %s %s (%s)", e.ID, e.Date, e.Time, e.Task, e.Member)
}

func printEvents(w io.Writer, events []record.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events.")
		return
	}
	for _, e := range record.SortEvents(events) {
		fmt.Fprintln(w, formatEvent(e))
	}
}

func printDeletion(w io.Writer, kind, key string, deleted bool) {
	if deleted {
		fmt.Fprintf(w, "Deleted %s %s\n", kind, key)
		return
	}
	fmt.Fprintf(w, "No %s %s\n", kind, key)
}

func printStats(w io.Writer, st store.Stats) {
	fmt.Fprintf(w, "Total:      %d\n", st.Total)
	fmt.Fprintf(w, "This month: %d\n", st.ThisMonth)
	if st.Total > 0 {
		fmt.Fprintf(w, "Span:       %s .. %s\n", st.First, st.Last)
	}
	for _, m := range slices.Sorted(maps.Keys(st.ByMember)) {
		fmt.Fprintf(w, "  %s: %d\n", m, st.ByMember[m])
	}
}
