package kv

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/famcal/internal/provider"
	"github.com/roach88/famcal/internal/record"
	"github.com/roach88/famcal/internal/testutil"
)

const testToken = "secret-token"

// fakeREST emulates the Upstash REST subset used by RESTClient.
type fakeREST struct {
	mu     sync.Mutex
	data   map[string]string
	status int
}

func newFakeREST() *fakeREST {
	return &fakeREST{data: make(map[string]string)}
}

func (f *fakeREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, `{"error":"injected"}`)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+testToken {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"Unauthorized"}`)
		return
	}

	reply := func(v any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": v})
	}
	switch {
	case r.URL.Path == "/ping":
		reply("PONG")
	case strings.HasPrefix(r.URL.Path, "/get/") && r.Method == http.MethodGet:
		v, ok := f.data[strings.TrimPrefix(r.URL.Path, "/get/")]
		if !ok {
			reply(nil)
			return
		}
		reply(v)
	case strings.HasPrefix(r.URL.Path, "/set/") && r.Method == http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		f.data[strings.TrimPrefix(r.URL.Path, "/set/")] = string(body)
		reply("OK")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeREST) fail(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func newTestREST(t *testing.T, token string) (*RESTClient, *fakeREST) {
	t.Helper()
	fake := newFakeREST()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := NewRESTClient(srv.URL, token, WithRetry(0, 0, 0), WithRESTLogger(testutil.DiscardLogger()))
	require.NoError(t, err)
	return client, fake
}

func TestRESTClient_GetPut(t *testing.T) {
	client, _ := newTestREST(t, testToken)
	ctx := context.Background()

	entry, err := client.Get(ctx, EventsKey)
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, client.Put(ctx, EventsKey, []byte(`[{"id":"1"}]`)))

	entry, err = client.Get(ctx, EventsKey)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.JSONEq(t, `[{"id":"1"}]`, string(entry.Value))
	assert.Zero(t, entry.Version)

	require.NoError(t, client.Ping(ctx))
}

func TestRESTClient_ErrorClassification(t *testing.T) {
	ctx := context.Background()

	unauthorized, _ := newTestREST(t, "wrong")
	_, err := unauthorized.Get(ctx, EventsKey)
	assert.True(t, provider.IsOperation(err))

	client, fake := newTestREST(t, testToken)
	fake.fail(http.StatusServiceUnavailable)
	err = client.Ping(ctx)
	assert.True(t, provider.IsUnavailable(err))
}

func TestRESTClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client, err := NewRESTClient(addr, testToken, WithRetry(0, 0, 0), WithRESTLogger(testutil.DiscardLogger()))
	require.NoError(t, err)

	err = client.Ping(context.Background())
	assert.True(t, provider.IsUnavailable(err))
}

func TestNewRESTClient_RejectsRelativeURL(t *testing.T) {
	_, err := NewRESTClient("kv.example", testToken)
	assert.Error(t, err)
}

func TestProvider_OverREST(t *testing.T) {
	client, _ := newTestREST(t, testToken)
	p := New(client, WithCAS(true), WithLogger(testutil.DiscardLogger()))
	ctx := context.Background()

	saved, err := p.SaveEvent(ctx, record.Event{ID: "x", Date: "2025-08-20", Time: "07:30", Task: "テニス", Member: "あい"})
	require.NoError(t, err)

	events, err := p.Events(ctx)
	require.NoError(t, err)
	got, ok := record.FindEvent(events, "x")
	require.True(t, ok)
	assert.Equal(t, saved, got)
	assert.Len(t, events, 4, "seed plus the new event")
}
