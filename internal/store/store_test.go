package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/famcal/internal/cache"
	"github.com/roach88/famcal/internal/ident"
	"github.com/roach88/famcal/internal/kv"
	"github.com/roach88/famcal/internal/probe"
	"github.com/roach88/famcal/internal/provider"
	"github.com/roach88/famcal/internal/record"
	"github.com/roach88/famcal/internal/testutil"
)

// flakyAuthority wraps a provider and lets tests fail individual operations.
type flakyAuthority struct {
	*kv.Provider
	saveEventErr error
	saveTaskErr  error

	// beforeSaveEvent runs at the start of SaveEvent.
	beforeSaveEvent func()
}

func (f *flakyAuthority) SaveEvent(ctx context.Context, e record.Event) (record.Event, error) {
	if f.beforeSaveEvent != nil {
		f.beforeSaveEvent()
	}
	if f.saveEventErr != nil {
		return record.Event{}, f.saveEventErr
	}
	return f.Provider.SaveEvent(ctx, e)
}

func (f *flakyAuthority) SaveTask(ctx context.Context, name string) (string, error) {
	if f.saveTaskErr != nil {
		return "", f.saveTaskErr
	}
	return f.Provider.SaveTask(ctx, name)
}

type fixture struct {
	store     *Store
	cache     *cache.Cache
	client    *kv.MemoryClient
	authority *flakyAuthority
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := testutil.DiscardLogger()
	filter := record.NewMemberFilter(record.DefaultMembers...)
	clock := testutil.NewDeterministicClock()

	c := cache.New(afero.NewMemMapFs(), "/cache", cache.WithClock(clock.Now), cache.WithLogger(logger))
	client := kv.NewMemoryClient()
	authority := &flakyAuthority{Provider: kv.New(client,
		kv.WithBackend(provider.BackendMemory),
		kv.WithMemberFilter(filter),
		kv.WithLogger(logger),
	)}

	base := []Option{
		WithGenerator(&ident.SequenceGenerator{}),
		WithMemberFilter(filter),
		WithClock(clock.Now),
		WithLogger(logger),
	}
	s := New(authority, probe.ForMemory(authority, probe.WithLogger(logger)), c, append(base, opts...)...)
	return &fixture{store: s, cache: c, client: client, authority: authority}
}

// empty clears both tiers.
func (f *fixture) empty(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.client.Put(ctx, kv.EventsKey, []byte("[]")))
	require.NoError(t, f.client.Put(ctx, kv.TasksKey, []byte("[]")))
	require.NoError(t, f.cache.Set(record.Snapshot{}))
}

func TestSaveEvent_IdempotentUpsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved, err := f.store.SaveEvent(ctx, testutil.SampleEvent())
	require.NoError(t, err)
	before, err := f.store.Events(ctx)
	require.NoError(t, err)

	again, err := f.store.SaveEvent(ctx, saved)
	require.NoError(t, err)
	after, err := f.store.Events(ctx)
	require.NoError(t, err)

	assert.Equal(t, saved, again)
	assert.Equal(t, before, after)
}

func TestSaveEvent_IdentityStability(t *testing.T) {
	f := newFixture(t)
	f.empty(t)
	ctx := context.Background()

	first, err := f.store.SaveEvent(ctx, record.Event{Date: "2025-08-05", Time: "09:00", Task: "仕事", Member: "けんじ"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	_, err = f.store.SaveEvent(ctx, first)
	require.NoError(t, err)

	events, err := f.store.Events(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Len(t, f.cache.Get().Events, 1, "cache agrees with the authority")
}

func TestSaveEvent_AddsTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.SaveEvent(ctx, record.Event{Date: "2025-08-10", Time: "10:00", Task: "料理", Member: "あい"})
	require.NoError(t, err)

	tasks, err := f.store.Tasks(ctx)
	require.NoError(t, err)
	assert.Contains(t, tasks, "料理")
	assert.Contains(t, f.cache.Get().Tasks, "料理")
}

func TestSaveEvent_RejectsMalformed(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.SaveEvent(context.Background(), record.Event{Date: "tomorrow", Time: "09:00", Task: "仕事", Member: "あい"})

	assert.ErrorIs(t, err, record.ErrInvalid)
}

func TestFallbackAvailability(t *testing.T) {
	f := newFixture(t)
	f.client.SetDown(true)
	ctx := context.Background()

	events, err := f.store.Events(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, events)

	saved, err := f.store.SaveEvent(ctx, testutil.SampleEvent())
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	events, err = f.store.Events(ctx)
	require.NoError(t, err)
	_, found := record.FindEvent(events, saved.ID)
	assert.True(t, found)

	_, inAuthority := f.client.Raw(kv.EventsKey)
	assert.False(t, inAuthority, "unreachable authority was never written")
}

func TestDegradeButDontCorrupt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Events(ctx)
	require.NoError(t, err)
	_, err = f.store.Tasks(ctx)
	require.NoError(t, err)
	before := f.cache.Get()

	f.client.FailWrites(errors.New("write quota exceeded"))

	saved, err := f.store.SaveEvent(ctx, record.Event{Date: "2025-08-11", Time: "12:00", Task: "仕事", Member: "あい"})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID, "computed record is still returned")

	removed, err := f.store.DeleteEvent(ctx, "1")
	require.NoError(t, err)
	assert.True(t, removed, "computed from cache state")

	assert.Equal(t, before, f.cache.Get())
}

func TestStrictWrites(t *testing.T) {
	f := newFixture(t, WithStrictWrites(true))
	ctx := context.Background()
	_, err := f.store.Events(ctx)
	require.NoError(t, err)
	before := f.cache.Get()

	f.client.FailWrites(errors.New("write quota exceeded"))

	_, err = f.store.SaveTask(ctx, "料理")
	assert.True(t, provider.IsPersistenceFailed(err))
	assert.Equal(t, before, f.cache.Get())
}

func TestWrite_AuthorityDropsMidCall(t *testing.T) {
	f := newFixture(t)
	f.authority.saveEventErr = provider.Unavailable(provider.BackendMemory, "save event", context.DeadlineExceeded)
	ctx := context.Background()

	saved, err := f.store.SaveEvent(ctx, testutil.SampleEvent())
	require.NoError(t, err)

	_, cached := record.FindEvent(f.cache.Get().Events, saved.ID)
	assert.True(t, cached, "timeouts take the unavailable path")
}

func TestWrite_CallerCancelSkipsCache(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.authority.beforeSaveEvent = cancel
	f.authority.saveEventErr = provider.Unavailable(provider.BackendMemory, "save event", context.Canceled)
	before := f.cache.Get()

	_, err := f.store.SaveEvent(ctx, testutil.SampleEvent())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, provider.IsPersistenceFailed(err))
	assert.Equal(t, before.Events, f.cache.Get().Events, "a caller that gave up is not an outage")
}

func TestSaveEvent_RollsBackWhenTaskFails(t *testing.T) {
	f := newFixture(t, WithStrictWrites(true))
	f.authority.saveTaskErr = errors.New("permission denied")
	ctx := context.Background()

	_, err := f.store.SaveEvent(ctx, record.Event{ID: "new", Date: "2025-08-12", Time: "09:30", Task: "料理", Member: "あい"})
	require.Error(t, err)
	assert.True(t, provider.IsPersistenceFailed(err))

	raw, _, err := f.authority.Dump(ctx)
	require.NoError(t, err)
	_, inAuthority := record.FindEvent(raw, "new")
	assert.False(t, inAuthority)
	_, inCache := record.FindEvent(f.cache.Get().Events, "new")
	assert.False(t, inCache)
}

func TestSaveEvent_RollbackRestoresPreviousVersion(t *testing.T) {
	f := newFixture(t, WithStrictWrites(true))
	ctx := context.Background()
	_, err := f.store.Events(ctx)
	require.NoError(t, err)
	f.authority.saveTaskErr = errors.New("permission denied")

	changed := record.BootstrapEvents()[0]
	changed.Task = "料理"
	_, err = f.store.SaveEvent(ctx, changed)
	require.Error(t, err)

	events, err := f.store.Events(ctx)
	require.NoError(t, err)
	got, ok := record.FindEvent(events, changed.ID)
	require.True(t, ok)
	assert.Equal(t, "仕事", got.Task)
}

func TestPersistenceFailed_AllTiersDown(t *testing.T) {
	logger := testutil.DiscardLogger()
	c := cache.New(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/cache", cache.WithLogger(logger))
	client := kv.NewMemoryClient()
	client.SetDown(true)
	authority := kv.New(client, kv.WithLogger(logger))
	s := New(authority, probe.ForKV(authority, true, probe.WithLogger(logger)), c, WithLogger(logger))

	_, err := s.SaveTask(context.Background(), "料理")

	require.Error(t, err)
	assert.True(t, provider.IsPersistenceFailed(err))
	assert.Contains(t, err.Error(), kv.ErrDown.Error())

	events, err := s.Events(context.Background())
	require.NoError(t, err, "reads never fail")
	assert.NotEmpty(t, events)
}

func TestMemberFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.SaveEvent(ctx, testutil.HiddenEvent())
	require.NoError(t, err)

	events, err := f.store.Events(ctx)
	require.NoError(t, err)
	_, visible := record.FindEvent(events, "hidden-1")
	assert.False(t, visible)

	raw, _, err := f.authority.Dump(ctx)
	require.NoError(t, err)
	_, stored := record.FindEvent(raw, "hidden-1")
	assert.True(t, stored)
}

func TestTaskUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.store.Tasks(ctx)
	require.NoError(t, err)

	name, err := f.store.SaveTask(ctx, "テニス")
	require.NoError(t, err)
	assert.Equal(t, "テニス", name)

	_, err = f.store.SaveTask(ctx, "テニス")
	require.NoError(t, err)

	after, err := f.store.Tasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDeleteTask_MatchesStoredNameExactly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.client.Put(ctx, kv.TasksKey, []byte(`["仕事","テニス "]`)))

	deleted, err := f.store.DeleteTask(ctx, "テニス")
	require.NoError(t, err)
	assert.False(t, deleted, "trimmed name is a different task")

	deleted, err = f.store.DeleteTask(ctx, "テニス ")
	require.NoError(t, err)
	assert.True(t, deleted)

	tasks, err := f.store.Tasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"仕事"}, tasks)
}

func TestSaveTask_KeepsCallerBytes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// "が" as KA + combining voiced mark.
	decomposed := "\u304B\u3099"

	name, err := f.store.SaveTask(ctx, decomposed)
	require.NoError(t, err)
	assert.Equal(t, decomposed, name)

	tasks, err := f.store.Tasks(ctx)
	require.NoError(t, err)
	assert.Contains(t, tasks, decomposed)
	assert.NotContains(t, tasks, "\u304C")

	deleted, err := f.store.DeleteTask(ctx, decomposed)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestDeleteEvent_MatchesStoredIDExactly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.client.Put(ctx, kv.EventsKey,
		[]byte(`[{"id":" 7 ","date":"2025-08-05","time":"09:00","task":"仕事","member":"けんじ"}]`)))

	deleted, err := f.store.DeleteEvent(ctx, "7")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = f.store.DeleteEvent(ctx, " 7 ")
	require.NoError(t, err)
	assert.True(t, deleted)

	events, err := f.store.Events(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRead_WritesThroughToCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.client.Put(ctx, kv.TasksKey, []byte(`["b","a"]`)))

	tasks, err := f.store.Tasks(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, tasks)
	assert.Equal(t, []string{"a", "b"}, f.cache.Get().Tasks)
}

func TestRead_FailedAuthorityServesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.SaveTask(ctx, "料理")
	require.NoError(t, err)

	f.client.FailReads(errors.New("internal error"))

	tasks, err := f.store.Tasks(ctx)
	require.NoError(t, err)
	assert.Contains(t, tasks, "料理")
}

func TestDeleteTask_DoesNotCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	removed, err := f.store.DeleteTask(ctx, "仕事")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = f.store.DeleteTask(ctx, "仕事")
	require.NoError(t, err)
	assert.False(t, removed)

	events, err := f.store.Events(ctx)
	require.NoError(t, err)
	_, ok := record.FindEvent(events, "1")
	assert.True(t, ok)
}

func TestDeleteEvent_RequiresID(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.DeleteEvent(context.Background(), "  ")

	assert.ErrorIs(t, err, record.ErrInvalid)
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved, err := f.store.SaveEvent(ctx, record.Event{Date: "2025-08-20", Time: "18:30", Task: "料理", Member: "あい"})
	require.NoError(t, err)
	_, err = f.store.DeleteEvent(ctx, "2")
	require.NoError(t, err)
	_, err = f.store.SaveTask(ctx, "掃除")
	require.NoError(t, err)

	exported, err := f.store.Snapshot(ctx)
	require.NoError(t, err)

	// Diverge, then restore.
	_, err = f.store.DeleteEvent(ctx, saved.ID)
	require.NoError(t, err)
	_, err = f.store.SaveEvent(ctx, record.Event{Date: "2025-09-01", Time: "07:00", Task: "ジム", Member: "けんじ"})
	require.NoError(t, err)
	_, err = f.store.DeleteTask(ctx, "テニス")
	require.NoError(t, err)

	require.NoError(t, f.store.Restore(ctx, exported))

	restored, err := f.store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.SortEvents(exported.Events), record.SortEvents(restored.Events))
	assert.Equal(t, exported.Tasks, restored.Tasks)
}

func TestRestore_RejectsOtherVersion(t *testing.T) {
	f := newFixture(t)

	err := f.store.Restore(context.Background(), record.Snapshot{SchemaVersion: 99})

	assert.ErrorIs(t, err, record.ErrInvalid)
}

func TestRestore_FailureRollsBackCache(t *testing.T) {
	f := newFixture(t, WithStrictWrites(true))
	f.empty(t)
	ctx := context.Background()
	kept, err := f.store.SaveEvent(ctx, testutil.SampleEvent())
	require.NoError(t, err)
	before := f.cache.Get()
	f.authority.saveTaskErr = errors.New("permission denied")

	err = f.store.Restore(ctx, record.Snapshot{
		Events:        []record.Event{{ID: "other", Date: "2025-08-20", Time: "07:30", Task: "ピアノ", Member: "あい"}},
		Tasks:         []string{"ピアノ"},
		SchemaVersion: record.SchemaVersion,
	})
	require.Error(t, err)

	after := f.cache.Get()
	assert.Equal(t, before.Events, after.Events)
	assert.Equal(t, before.Tasks, after.Tasks)
	_, cached := record.FindEvent(after.Events, kept.ID)
	assert.True(t, cached, "event removed mid-restore is back in the cache")
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.client.Put(ctx, kv.EventsKey, []byte(`[{"id":"r","date":"2025-08-30","time":"10:00","task":"仕事","member":"あい"}]`)))
	require.NoError(t, f.client.Put(ctx, kv.TasksKey, []byte(`["仕事"]`)))

	require.NoError(t, f.store.Refresh(ctx))

	snap := f.cache.Get()
	assert.Len(t, snap.Events, 1)
	assert.Equal(t, []string{"仕事"}, snap.Tasks)

	f.client.SetDown(true)
	assert.Error(t, f.store.Refresh(ctx))
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	f.empty(t)
	ctx := context.Background()

	require.NoError(t, f.store.Reset(ctx))

	assert.Equal(t, record.BootstrapEvents(), f.cache.Get().Events)
}

func TestLocalOnly(t *testing.T) {
	logger := testutil.DiscardLogger()
	c := cache.New(afero.NewMemMapFs(), "/cache", cache.WithLogger(logger))
	s := New(nil, nil, c, WithGenerator(&ident.SequenceGenerator{}), WithLogger(logger))
	ctx := context.Background()

	assert.Equal(t, provider.BackendLocal, s.Backend())

	saved, err := s.SaveEvent(ctx, testutil.SampleEvent())
	require.NoError(t, err)
	assert.Equal(t, "event_1", saved.ID)

	events, err := s.Events(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 4)

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Available)
}

func TestUnconfiguredAuthority(t *testing.T) {
	logger := testutil.DiscardLogger()
	c := cache.New(afero.NewMemMapFs(), "/cache", cache.WithLogger(logger))
	s := New(nil, probe.ForKV(nil, false), c, WithLogger(logger))
	ctx := context.Background()

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, provider.BackendKV, st.Backend)
	assert.False(t, st.Configured)
	assert.False(t, st.Available)

	_, err = s.SaveTask(ctx, "散歩")
	require.NoError(t, err)
	assert.Contains(t, c.Get().Tasks, "散歩")
}

func TestNilAuthorityIgnoresConfiguredProbe(t *testing.T) {
	logger := testutil.DiscardLogger()
	c := cache.New(afero.NewMemMapFs(), "/cache", cache.WithLogger(logger))
	s := New(nil, probe.ForRelational(true), c, WithLogger(logger))

	st, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provider.BackendLocal, st.Backend)

	_, err = s.SaveTask(context.Background(), "散歩")
	require.NoError(t, err)
}

func TestDumpBypassesMemberFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.authority.Provider.SaveEvent(ctx, testutil.HiddenEvent())
	require.NoError(t, err)

	events, err := f.store.Events(ctx)
	require.NoError(t, err)
	_, visible := record.FindEvent(events, "hidden-1")
	assert.False(t, visible)

	snap, err := f.store.Dump(ctx)
	require.NoError(t, err)
	_, dumped := record.FindEvent(snap.Events, "hidden-1")
	assert.True(t, dumped)
	assert.Equal(t, record.SchemaVersion, snap.SchemaVersion)

	f.client.SetDown(true)
	snap, err = f.store.Dump(ctx)
	require.NoError(t, err)
	_, dumped = record.FindEvent(snap.Events, "hidden-1")
	assert.False(t, dumped, "the cache only holds filtered reads")
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := ComputeStats(ctx, f.store, time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 3, st.ThisMonth)
	assert.Equal(t, map[string]int{"けんじ": 2, "あい": 1}, st.ByMember)
	assert.Equal(t, "2025-08-05", st.First)
	assert.Equal(t, "2025-08-09", st.Last)

	inRange, err := EventsInRange(ctx, f.store, "2025-08-06", "2025-08-09")
	require.NoError(t, err)
	require.Len(t, inRange, 2)
	assert.Equal(t, "2", inRange[0].ID)

	_, err = EventsInRange(ctx, f.store, "2025-08-09", "2025-08-01")
	assert.ErrorIs(t, err, record.ErrInvalid)
}
