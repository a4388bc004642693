// Package probe decides, per operation, whether the authoritative backend
// may be used.
//
// Configuration presence is fixed at construction. Reachability is checked
// on every call and never cached.
package probe

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/famcal/internal/provider"
)

// DefaultTimeout bounds one liveness round trip.
const DefaultTimeout = 2 * time.Second

// ErrNotConfigured is reported when required configuration is absent.
var ErrNotConfigured = errors.New("backend not configured")

// Check is a liveness round trip.
type Check func(ctx context.Context) error

// Probe reports availability of one backend.
type Probe struct {
	backend    provider.Backend
	configured bool
	liveness   Check // nil: configuration presence is availability
	diagnose   Check // reported by Status only
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures a Probe.
type Option func(*Probe)

// WithTimeout bounds each liveness check. Default: DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Probe) {
		p.timeout = d
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Probe) {
		p.logger = l
	}
}

// WithDiagnostic attaches a connection test that Status runs but Available
// ignores.
func WithDiagnostic(c Check) Option {
	return func(p *Probe) {
		p.diagnose = c
	}
}

func newProbe(b provider.Backend, configured bool, liveness Check, opts []Option) *Probe {
	p := &Probe{
		backend:    b,
		configured: configured,
		liveness:   liveness,
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ForKV probes a key-value backend: configuration must be present and the
// pinger must answer. Without configuration no network call is made.
func ForKV(pinger provider.Pinger, configured bool, opts ...Option) *Probe {
	var check Check
	if pinger != nil {
		check = pinger.Ping
	}
	return newProbe(provider.BackendKV, configured, check, opts)
}

// ForMemory probes the in-process backend; it is always configured.
func ForMemory(pinger provider.Pinger, opts ...Option) *Probe {
	var check Check
	if pinger != nil {
		check = pinger.Ping
	}
	return newProbe(provider.BackendMemory, true, check, opts)
}

// ForRelational treats configuration presence as availability.
func ForRelational(configured bool, opts ...Option) *Probe {
	return newProbe(provider.BackendRelational, configured, nil, opts)
}

// Never is the probe of the local-only deployment: no authority exists.
func Never() *Probe {
	return newProbe(provider.BackendLocal, false, nil, nil)
}

// Backend returns the probed backend.
func (p *Probe) Backend() provider.Backend {
	return p.backend
}

// Configured reports whether required configuration is present.
func (p *Probe) Configured() bool {
	return p.configured
}

// Check returns nil when the backend is usable, otherwise an Unavailable
// error describing why.
func (p *Probe) Check(ctx context.Context) error {
	if !p.configured {
		return provider.Unavailable(p.backend, "probe", ErrNotConfigured)
	}
	if p.liveness == nil {
		return nil
	}
	err := p.run(ctx, p.liveness)
	if err != nil {
		p.logger.Debug("backend liveness check failed", "backend", p.backend, "error", err)
		return provider.Unavailable(p.backend, "probe", err)
	}
	return nil
}

// Available reports whether the backend is usable right now.
func (p *Probe) Available(ctx context.Context) bool {
	return p.Check(ctx) == nil
}

// Status is the connection-test report.
type Status struct {
	Backend    provider.Backend `json:"backend"`
	Configured bool             `json:"configured"`
	Available  bool             `json:"available"`
	Reachable  *bool            `json:"reachable,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Status runs the availability check and, when configured, the diagnostic
// connection test.
func (p *Probe) Status(ctx context.Context) Status {
	st := Status{Backend: p.backend, Configured: p.configured}
	if err := p.Check(ctx); err != nil {
		st.Error = err.Error()
	} else {
		st.Available = true
	}

	if p.configured && p.diagnose != nil {
		err := p.run(ctx, p.diagnose)
		reachable := err == nil
		st.Reachable = &reachable
		if err != nil && st.Error == "" {
			st.Error = err.Error()
		}
	}
	return st
}

func (p *Probe) run(ctx context.Context, c Check) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return c(ctx)
}
