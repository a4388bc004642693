package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/roach88/famcal/internal/api"
	"github.com/roach88/famcal/internal/snapshot"
)

// shutdownTimeout bounds how long in-flight requests may finish after a
// shutdown signal.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen   string
	Timezone string
	Duration time.Duration

	// Started is called with the bound address once the listener is open
	// (for testing).
	Started func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the calendar over HTTP",
		Long: `Serve the calendar API and its iCalendar feed.

The backend is chosen from configuration. When a refresh schedule is
configured the cache is re-synchronized from the backend on that schedule.

Example:
  famcal serve
  famcal serve --listen :8080 --tz Asia/Tokyo --duration 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Timezone, "tz", "", "time zone for calendar feed times (default floating)")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "length of feed events (default none)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	configureLogging(opts.RootOptions, cmd, slog.LevelInfo)
	logger := slog.Default()

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}

	var icsOpts []snapshot.ICSOption
	if opts.Timezone != "" {
		loc, err := time.LoadLocation(opts.Timezone)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid time zone", err)
		}
		icsOpts = append(icsOpts, snapshot.WithLocation(loc))
	}
	if opts.Duration > 0 {
		icsOpts = append(icsOpts, snapshot.WithDuration(opts.Duration))
	}

	st, closeStore, err := buildStore(cfg, afero.NewOsFs(), logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := closeStore(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}()

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Refresh != "" {
		sched := cron.New()
		_, err := sched.AddFunc(cfg.Refresh, func() {
			if err := st.Refresh(ctx); err != nil {
				slog.Warn("scheduled refresh failed", "error", err)
				return
			}
			slog.Debug("cache refreshed", "backend", st.Backend())
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid refresh schedule", err)
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
		slog.Info("refresh scheduled", "schedule", cfg.Refresh)
	}

	srv := &http.Server{
		Handler:           api.NewServer(st, api.WithICSOptions(icsOpts...), api.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to listen", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	addr := ln.Addr().String()
	slog.Info("server started", "addr", addr, "backend", st.Backend())
	fmt.Fprintf(cmd.OutOrStdout(), "Serving family calendar on http://%s\n", addr)
	if opts.Started != nil {
		opts.Started(addr)
	}

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
