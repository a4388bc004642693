package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/famcal/internal/record"
)

// NewTasksCommand creates the tasks command group.
func NewTasksCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List, add and delete task names",
		Args:  cobra.NoArgs,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List task names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return withCalendar(cmd.Context(), rootOpts, f, func(ctx context.Context, cal calendar) error {
				tasks, err := cal.Tasks(ctx)
				if err != nil {
					return f.Fail("list tasks", err)
				}
				return f.Emit(tasks, func(w io.Writer) {
					if len(tasks) == 0 {
						fmt.Fprintln(w, "No tasks.")
					}
					for _, t := range tasks {
						fmt.Fprintln(w, t)
					}
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save <name>",
		Short: "Add a task name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return withCalendar(cmd.Context(), rootOpts, f, func(ctx context.Context, cal calendar) error {
				name, err := cal.SaveTask(ctx, record.NormalizeTask(args[0]))
				if err != nil {
					return f.Fail("save task", err)
				}
				return f.Emit(name, func(w io.Writer) { fmt.Fprintf(w, "Saved task %s\n", name) })
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a task name",
		Long:  "Delete a task name. Events that use the task are kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return withCalendar(cmd.Context(), rootOpts, f, func(ctx context.Context, cal calendar) error {
				deleted, err := cal.DeleteTask(ctx, args[0])
				if err != nil {
					return f.Fail("delete task", err)
				}
				return f.Emit(deletion{Name: args[0], Deleted: deleted}, func(w io.Writer) {
					printDeletion(w, "task", args[0], deleted)
				})
			})
		},
	})

	return cmd
}
