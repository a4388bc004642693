package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	"github.com/roach88/famcal/internal/api"
	"github.com/roach88/famcal/internal/cache"
	"github.com/roach88/famcal/internal/config"
	"github.com/roach88/famcal/internal/kv"
	"github.com/roach88/famcal/internal/probe"
	"github.com/roach88/famcal/internal/provider"
	"github.com/roach88/famcal/internal/record"
	"github.com/roach88/famcal/internal/relational"
	"github.com/roach88/famcal/internal/store"
)

// calendar is what every data command needs: the facade operations plus the
// backend name for status lines.
type calendar interface {
	store.Calendar
	Backend() provider.Backend
}

// loadConfig reads the configuration file named by --config (or the default
// path) overlaid with the process environment.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(afero.NewOsFs(), opts.Config, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// buildStore assembles the tiered store described by cfg. The returned
// closer releases backend resources and is never nil.
func buildStore(cfg *config.Config, fsys afero.Fs, logger *slog.Logger) (*store.Store, func() error, error) {
	noop := func() error { return nil }

	backend, err := provider.ParseBackend(cfg.Backend)
	if err != nil {
		return nil, noop, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	filter := record.NewMemberFilter(cfg.Members...)
	c := cache.New(fsys, cfg.CachePath, cache.WithLogger(logger))
	probeOpts := []probe.Option{probe.WithLogger(logger), probe.WithTimeout(cfg.Timeout)}

	var (
		authority provider.Provider
		p         *probe.Probe
		closer    = noop
	)

	switch backend {
	case provider.BackendLocal:
		p = probe.Never()

	case provider.BackendMemory:
		kvp := kv.New(kv.NewMemoryClient(),
			kv.WithBackend(provider.BackendMemory),
			kv.WithMemberFilter(filter),
			kv.WithLogger(logger),
		)
		authority, p = kvp, probe.ForMemory(kvp, probeOpts...)

	case provider.BackendKV:
		if !cfg.KVConfigured() {
			logger.Warn("kv backend selected but not configured, using the local cache")
			p = probe.ForKV(nil, false, probeOpts...)
			break
		}
		client, err := newKVClient(cfg, logger)
		if err != nil {
			return nil, noop, err
		}
		kvp := kv.New(client,
			kv.WithMemberFilter(filter),
			kv.WithLogger(logger),
			kv.WithCAS(cfg.KV.CAS),
		)
		authority, p = kvp, probe.ForKV(kvp, true, probeOpts...)

	case provider.BackendRelational:
		if !cfg.RelationalConfigured() {
			logger.Warn("relational backend selected but not configured, using the local cache")
			p = probe.ForRelational(false, probeOpts...)
			break
		}
		rp, err := relational.Open(cfg.Relational.Driver, cfg.Relational.DSN,
			relational.WithMemberFilter(filter),
			relational.WithLogger(logger),
		)
		if err != nil {
			return nil, noop, err
		}
		authority, closer = rp, rp.Close
		p = probe.ForRelational(true, append(probeOpts, probe.WithDiagnostic(rp.Ping))...)
	}

	s := store.New(authority, p, c,
		store.WithMemberFilter(filter),
		store.WithTimeout(cfg.Timeout),
		store.WithStrictWrites(cfg.Strict),
		store.WithLogger(logger),
	)
	logger.Debug("store ready", "backend", s.Backend(), "cache", c.Path(), "strict", cfg.Strict)
	return s, closer, nil
}

// newKVClient creates the remote key-value client for the configured driver.
func newKVClient(cfg *config.Config, logger *slog.Logger) (kv.Client, error) {
	switch cfg.KV.Driver {
	case config.KVDriverConsul:
		return kv.NewConsulClient(cfg.KV.Address, cfg.KV.Token, cfg.KV.Prefix)
	default:
		return kv.NewRESTClient(cfg.KV.URL, cfg.KV.Token, kv.WithRESTLogger(logger))
	}
}

// openCalendar returns the calendar the data commands operate on: a client
// of the server named by --server, or a store built from configuration.
func openCalendar(opts *RootOptions) (calendar, func() error, error) {
	logger := slog.Default()
	if opts.Server != "" {
		c, err := api.NewClient(opts.Server, api.WithClientLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", record.ErrInvalid, err)
		}
		return c, func() error { return nil }, nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	s, closer, err := buildStore(cfg, afero.NewOsFs(), logger)
	if err != nil {
		return nil, nil, err
	}
	return s, closer, nil
}

// withCalendar opens the calendar, runs fn, and closes it. Failures are
// reported through f.
func withCalendar(ctx context.Context, opts *RootOptions, f *OutputFormatter, fn func(context.Context, calendar) error) error {
	cal, closer, err := openCalendar(opts)
	if err != nil {
		return f.Fail("open calendar", err)
	}
	defer func() {
		if cerr := closer(); cerr != nil {
			slog.Warn("close calendar", "error", cerr)
		}
	}()
	return fn(ctx, cal)
}
