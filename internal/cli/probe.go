package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/famcal/internal/probe"
)

// NewProbeCommand creates the probe command.
func NewProbeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Report whether the authoritative backend is usable",
		Long: `Report the configured backend, whether it is configured, and whether it
is currently available. The relational backend also reports whether a
connection test succeeded.

Exits 1 when a configured backend is unavailable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return withCalendar(cmd.Context(), rootOpts, f, func(ctx context.Context, cal calendar) error {
				st, err := cal.Status(ctx)
				if err != nil {
					return f.Fail("probe", err)
				}
				if err := f.Emit(st, func(w io.Writer) { printStatus(w, st) }); err != nil {
					return err
				}
				if st.Configured && !st.Available {
					return NewExitError(ExitFailure, fmt.Sprintf("backend %s unavailable", st.Backend))
				}
				return nil
			})
		},
	}
}

func printStatus(w io.Writer, st probe.Status) {
	fmt.Fprintf(w, "Backend:    %s\n", st.Backend)
	fmt.Fprintf(w, "Configured: %t\n", st.Configured)
	fmt.Fprintf(w, "Available:  %t\n", st.Available)
	if st.Reachable != nil {
		fmt.Fprintf(w, "Reachable:  %t\n", *st.Reachable)
	}
	if st.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", st.Error)
	}
}
