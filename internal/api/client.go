package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/roach88/famcal/internal/ident"
	"github.com/roach88/famcal/internal/probe"
	"github.com/roach88/famcal/internal/provider"
	"github.com/roach88/famcal/internal/record"
	"github.com/roach88/famcal/internal/snapshot"
	"github.com/roach88/famcal/internal/store"
)

// Client is the transport shim. It implements store.Calendar against a
// Server.
//
// Event IDs are assigned before the request is sent, so a retried save
// lands on the same record.
type Client struct {
	base   *url.URL
	http   *retryablehttp.Client
	gen    ident.Generator
	logger *slog.Logger
}

var (
	_ store.Calendar    = (*Client)(nil)
	_ provider.Provider = (*Client)(nil)
	_ provider.Pinger   = (*Client)(nil)
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetry sets the retry policy of the underlying HTTP client.
func WithRetry(max int, waitMin, waitMax time.Duration) ClientOption {
	return func(c *Client) {
		c.http.RetryMax = max
		c.http.RetryWaitMin = waitMin
		c.http.RetryWaitMax = waitMax
	}
}

// WithHTTPClient replaces the transport used for each attempt.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http.HTTPClient = hc
	}
}

// WithClientGenerator sets the generator for client-assigned event IDs.
func WithClientGenerator(g ident.Generator) ClientOption {
	return func(c *Client) {
		c.gen = g
	}
}

// WithClientLogger sets the logger. Default: slog.Default().
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient returns a Client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("parse server url: %q is not an http(s) url", baseURL)
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = 2
	hc.RetryWaitMin = 100 * time.Millisecond
	hc.RetryWaitMax = time.Second
	hc.ErrorHandler = giveUp

	c := &Client{base: base, http: hc, gen: ident.UUIDv7Generator{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.http.Logger = c.logger
	return c, nil
}

// giveUp hands back the last response so its envelope can be read. With
// no response the server was never reached.
func giveUp(resp *http.Response, err error, attempts int) (*http.Response, error) {
	if resp != nil {
		return resp, nil
	}
	return nil, provider.Unavailable(provider.BackendRemote, "request", fmt.Errorf("%w (%d attempts)", err, attempts))
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// call sends one request and decodes the envelope's data into out.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	target := c.base.JoinPath(path)
	if query != nil {
		target.RawQuery = query.Encode()
	}

	var reqBody any
	switch b := body.(type) {
	case nil:
	case []byte:
		reqBody = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target.String(), reqBody)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("api request", "op", op, "method", method, "path", target.Path)
	resp, err := c.http.Do(req)
	if err != nil {
		return provider.Classify(provider.BackendRemote, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return provider.Classify(provider.BackendRemote, op, fmt.Errorf("read response: %w", err))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return provider.Operation(provider.BackendRemote, op,
			fmt.Errorf("status %d: undecodable reply: %w", resp.StatusCode, err))
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return replyError(op, resp.StatusCode, msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return provider.Operation(provider.BackendRemote, op, fmt.Errorf("decode data: %w", err))
	}
	return nil
}

// replyError maps a failed envelope onto the local error vocabulary.
func replyError(op string, status int, msg string) error {
	switch {
	case status == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", record.ErrInvalid, msg)
	case status >= http.StatusInternalServerError:
		return provider.Operation(provider.BackendRemote, op, errors.New(msg))
	default:
		return provider.Operation(provider.BackendRemote, op, fmt.Errorf("status %d: %s", status, msg))
	}
}

// Backend implements provider.Provider.
func (c *Client) Backend() provider.Backend {
	return provider.BackendRemote
}

// Events implements store.Calendar.
func (c *Client) Events(ctx context.Context) ([]record.Event, error) {
	events := []record.Event{}
	if err := c.call(ctx, "get events", http.MethodGet, "api/events", nil, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Tasks implements store.Calendar.
func (c *Client) Tasks(ctx context.Context) ([]string, error) {
	tasks := []string{}
	if err := c.call(ctx, "get tasks", http.MethodGet, "api/tasks", nil, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// SaveEvent implements store.Calendar.
func (c *Client) SaveEvent(ctx context.Context, e record.Event) (record.Event, error) {
	e.ID = ident.Assign(c.gen, e.ID)
	var saved record.Event
	if err := c.call(ctx, "save event", http.MethodPost, "api/events", nil, e, &saved); err != nil {
		return record.Event{}, err
	}
	return saved, nil
}

// SaveTask implements store.Calendar.
func (c *Client) SaveTask(ctx context.Context, name string) (string, error) {
	var saved string
	if err := c.call(ctx, "save task", http.MethodPost, "api/tasks", nil, TaskRequest{Task: name}, &saved); err != nil {
		return "", err
	}
	return saved, nil
}

// DeleteEvent implements store.Calendar.
func (c *Client) DeleteEvent(ctx context.Context, id string) (bool, error) {
	var d Deleted
	if err := c.call(ctx, "delete event", http.MethodDelete, "api/events", url.Values{"id": {id}}, nil, &d); err != nil {
		return false, err
	}
	return d.Deleted, nil
}

// DeleteTask implements store.Calendar.
func (c *Client) DeleteTask(ctx context.Context, name string) (bool, error) {
	var d Deleted
	if err := c.call(ctx, "delete task", http.MethodDelete, "api/tasks", url.Values{"name": {name}}, nil, &d); err != nil {
		return false, err
	}
	return d.Deleted, nil
}

// Snapshot implements store.Calendar.
func (c *Client) Snapshot(ctx context.Context) (record.Snapshot, error) {
	var snap record.Snapshot
	if err := c.call(ctx, "export", http.MethodGet, "api/export", nil, nil, &snap); err != nil {
		return record.Snapshot{}, err
	}
	return snap, nil
}

// Restore implements store.Calendar.
func (c *Client) Restore(ctx context.Context, snap record.Snapshot) error {
	var buf bytes.Buffer
	if err := snapshot.Encode(&buf, snap); err != nil {
		return err
	}
	return c.call(ctx, "import", http.MethodPost, "api/import", nil, buf.Bytes(), nil)
}

// Reset implements store.Calendar.
func (c *Client) Reset(ctx context.Context) error {
	return c.call(ctx, "reset", http.MethodPost, "api/reset", nil, nil, nil)
}

// Status implements store.Calendar.
func (c *Client) Status(ctx context.Context) (probe.Status, error) {
	var st probe.Status
	if err := c.call(ctx, "probe", http.MethodGet, "api/probe", nil, nil, &st); err != nil {
		return probe.Status{}, err
	}
	return st, nil
}

// Stats fetches the server-side summary.
func (c *Client) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	if err := c.call(ctx, "stats", http.MethodGet, "api/stats", nil, nil, &st); err != nil {
		return store.Stats{}, err
	}
	return st, nil
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", http.MethodGet, "health", nil, nil, nil)
}
