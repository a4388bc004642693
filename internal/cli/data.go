package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/roach88/famcal/internal/record"
	"github.com/roach88/famcal/internal/snapshot"
	"github.com/roach88/famcal/internal/store"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output   string
	ICS      bool
	Raw      bool
	Timezone string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the calendar as a snapshot document or iCalendar file",
		Long: `Write the visible calendar as a JSON snapshot document (the format
accepted by import) or, with --ics, as an iCalendar file.

--raw exports every stored event regardless of the member allow-list. It
needs direct access to the store and cannot be combined with --server.

Example:
  famcal export -o backup.json
  famcal export --ics --tz Asia/Tokyo -o family.ics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write to file instead of stdout")
	cmd.Flags().BoolVar(&opts.ICS, "ics", false, "write iCalendar instead of JSON")
	cmd.Flags().BoolVar(&opts.Raw, "raw", false, "include events of members outside the allow-list")
	cmd.Flags().StringVar(&opts.Timezone, "tz", "", "time zone for iCalendar times (default floating)")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	var icsOpts []snapshot.ICSOption
	if opts.Timezone != "" {
		loc, err := time.LoadLocation(opts.Timezone)
		if err != nil {
			return f.Fail("invalid time zone", fmt.Errorf("%w: %v", record.ErrInvalid, err))
		}
		icsOpts = append(icsOpts, snapshot.WithLocation(loc))
	}

	return withCalendar(cmd.Context(), opts.RootOptions, f, func(ctx context.Context, cal calendar) error {
		var (
			snap record.Snapshot
			err  error
		)
		if opts.Raw {
			s, ok := cal.(*store.Store)
			if !ok {
				return f.Fail("export", fmt.Errorf("%w: --raw needs direct store access", record.ErrInvalid))
			}
			snap, err = s.Dump(ctx)
		} else {
			snap, err = cal.Snapshot(ctx)
		}
		if err != nil {
			return f.Fail("export", err)
		}

		var buf bytes.Buffer
		if opts.ICS {
			err = snapshot.EncodeICS(&buf, snap, icsOpts...)
		} else {
			err = snapshot.Encode(&buf, snap)
		}
		if err != nil {
			return f.Fail("encode export", err)
		}

		if opts.Output == "" {
			_, err := buf.WriteTo(cmd.OutOrStdout())
			return err
		}
		if err := afero.WriteFile(afero.NewOsFs(), opts.Output, buf.Bytes(), 0o644); err != nil {
			return f.Fail("write export", err)
		}
		f.VerboseLog("wrote %d bytes to %s", buf.Len(), opts.Output)
		return f.Success(fmt.Sprintf("Exported %d events and %d tasks to %s", len(snap.Events), len(snap.Tasks), opts.Output))
	})
}

// importResult is the JSON payload of the import command.
type importResult struct {
	Events int `json:"events"`
	Tasks  int `json:"tasks"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Replace the calendar with a snapshot document",
		Long: `Replace the visible calendar with the contents of a snapshot document
written by export. The document is validated before anything is written.
Use - to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)

			data, err := readInput(cmd, args[0])
			if err != nil {
				return f.Fail("read snapshot", err)
			}
			snap, err := snapshot.Unmarshal(data)
			if err != nil {
				return f.Fail("invalid snapshot", err)
			}

			return withCalendar(cmd.Context(), rootOpts, f, func(ctx context.Context, cal calendar) error {
				if err := cal.Restore(ctx, snap); err != nil {
					return f.Fail("import", err)
				}
				res := importResult{Events: len(snap.Events), Tasks: len(snap.Tasks)}
				return f.Emit(res, func(w io.Writer) {
					fmt.Fprintf(w, "Imported %d events and %d tasks\n", res.Events, res.Tasks)
				})
			})
		},
	}
}

// readInput reads the named file, or stdin for "-".
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := afero.ReadFile(afero.NewOsFs(), name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist", record.ErrInvalid, name)
	}
	return data, err
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore the local cache to the bootstrap data",
		Long: `Restore the local fallback cache to the bootstrap events and tasks.

The authoritative backend is not modified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return withCalendar(cmd.Context(), rootOpts, f, func(ctx context.Context, cal calendar) error {
				if err := cal.Reset(ctx); err != nil {
					return f.Fail("reset", err)
				}
				return f.Success("Cache reset to bootstrap data")
			})
		},
	}
}
