package probe

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/famcal/internal/provider"
	"github.com/roach88/famcal/internal/testutil"
)

// countingPinger records calls and answers with err.
type countingPinger struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (c *countingPinger) Ping(ctx context.Context) error {
	c.calls.Add(1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.err
}

func TestForKV_UnconfiguredSkipsNetwork(t *testing.T) {
	pinger := &countingPinger{}
	p := ForKV(pinger, false, WithLogger(testutil.DiscardLogger()))

	assert.False(t, p.Available(context.Background()))
	assert.Zero(t, pinger.calls.Load())

	err := p.Check(context.Background())
	assert.True(t, provider.IsUnavailable(err))
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestForKV_ReprobesEveryCall(t *testing.T) {
	pinger := &countingPinger{}
	p := ForKV(pinger, true, WithLogger(testutil.DiscardLogger()))

	assert.True(t, p.Available(context.Background()))
	pinger.err = errors.New("connection refused")
	assert.False(t, p.Available(context.Background()))
	pinger.err = nil
	assert.True(t, p.Available(context.Background()))

	assert.Equal(t, int32(3), pinger.calls.Load())
}

func TestForKV_Timeout(t *testing.T) {
	pinger := &countingPinger{delay: time.Second}
	p := ForKV(pinger, true, WithTimeout(10*time.Millisecond), WithLogger(testutil.DiscardLogger()))

	err := p.Check(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestForRelational_ConfigurationIsAvailability(t *testing.T) {
	assert.True(t, ForRelational(true).Available(context.Background()))
	assert.False(t, ForRelational(false).Available(context.Background()))
}

func TestNever(t *testing.T) {
	p := Never()
	assert.False(t, p.Available(context.Background()))
	assert.Equal(t, provider.BackendLocal, p.Backend())
}

func TestStatus(t *testing.T) {
	diag := &countingPinger{err: errors.New("no route to host")}
	p := ForRelational(true, WithDiagnostic(diag.Ping))

	st := p.Status(context.Background())

	assert.Equal(t, provider.BackendRelational, st.Backend)
	assert.True(t, st.Configured)
	assert.True(t, st.Available, "relational availability ignores the diagnostic")
	require.NotNil(t, st.Reachable)
	assert.False(t, *st.Reachable)
	assert.Contains(t, st.Error, "no route to host")

	unconfigured := ForRelational(false, WithDiagnostic(diag.Ping)).Status(context.Background())
	assert.Nil(t, unconfigured.Reachable)
	assert.False(t, unconfigured.Available)
}
