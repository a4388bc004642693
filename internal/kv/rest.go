package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/roach88/famcal/internal/provider"
)

// RESTClient speaks the Vercel KV / Upstash REST protocol:
//
//	GET  {base}/get/{key}  -> {"result": "<value>"} or {"result": null}
//	POST {base}/set/{key}  body=value -> {"result": "OK"}
//	GET  {base}/ping       -> {"result": "PONG"}
//
// Every request carries "Authorization: Bearer {token}". The protocol has no
// version token, so RESTClient is not a CASClient.
type RESTClient struct {
	base   *url.URL
	token  string
	client *retryablehttp.Client
	logger *slog.Logger
}

// RESTOption configures a RESTClient.
type RESTOption func(*RESTClient)

// WithHTTPClient replaces the retrying HTTP client.
func WithHTTPClient(c *retryablehttp.Client) RESTOption {
	return func(r *RESTClient) {
		r.client = c
	}
}

// WithRetry sets the retry budget of the default HTTP client.
func WithRetry(max int, waitMin, waitMax time.Duration) RESTOption {
	return func(r *RESTClient) {
		r.client.RetryMax = max
		r.client.RetryWaitMin = waitMin
		r.client.RetryWaitMax = waitMax
	}
}

// WithRESTLogger sets the logger for the client and its retries.
func WithRESTLogger(l *slog.Logger) RESTOption {
	return func(r *RESTClient) {
		r.logger = l
		r.client.Logger = l
	}
}

// NewRESTClient creates a client for the REST endpoint at baseURL.
func NewRESTClient(baseURL, token string, opts ...RESTOption) (*RESTClient, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse kv url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("parse kv url: %q is not absolute", baseURL)
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = 2
	hc.RetryWaitMin = 100 * time.Millisecond
	hc.RetryWaitMax = time.Second
	hc.Logger = slog.Default()
	hc.ErrorHandler = exhausted

	r := &RESTClient{base: base, token: token, client: hc, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

var _ Client = (*RESTClient)(nil)

type restResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// Get implements Client.
func (r *RESTClient) Get(ctx context.Context, key string) (*Entry, error) {
	res, err := r.do(ctx, http.MethodGet, "get", "get/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 || string(res) == "null" {
		return nil, nil
	}

	// Values are stored as strings; tolerate raw JSON written by other clients.
	var s string
	if err := json.Unmarshal(res, &s); err != nil {
		return &Entry{Value: res}, nil
	}
	return &Entry{Value: []byte(s)}, nil
}

// Put implements Client.
func (r *RESTClient) Put(ctx context.Context, key string, value []byte) error {
	_, err := r.do(ctx, http.MethodPost, "set", "set/"+url.PathEscape(key), value)
	return err
}

// Ping implements Client.
func (r *RESTClient) Ping(ctx context.Context) error {
	res, err := r.do(ctx, http.MethodGet, "ping", "ping", nil)
	if err != nil {
		return err
	}
	var s string
	if err := json.Unmarshal(res, &s); err != nil || s != "PONG" {
		return provider.Operation(provider.BackendKV, "ping", fmt.Errorf("unexpected reply %s", res))
	}
	return nil
}

// exhausted runs once retries are used up. A final response is handed back
// so its status can be classified; no response means the endpoint never
// answered.
func exhausted(resp *http.Response, err error, attempts int) (*http.Response, error) {
	if resp != nil {
		return resp, nil
	}
	return nil, provider.Unavailable(provider.BackendKV, "request", fmt.Errorf("%w (%d attempts)", err, attempts))
}

// do issues one request and returns the "result" member of the reply.
func (r *RESTClient) do(ctx context.Context, method, op, path string, body []byte) (json.RawMessage, error) {
	target := r.base.JoinPath(path)

	var reqBody any
	if body != nil {
		reqBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target.String(), reqBody)
	if err != nil {
		return nil, provider.Operation(provider.BackendKV, op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	if body != nil {
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}

	r.logger.Debug("kv request", "method", method, "op", op)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, provider.Classify(provider.BackendKV, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.Classify(provider.BackendKV, op, fmt.Errorf("read body: %w", err))
	}

	var out restResponse
	decodeErr := json.Unmarshal(data, &out)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, provider.Unavailable(provider.BackendKV, op, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(data)))
	case resp.StatusCode != http.StatusOK:
		msg := out.Error
		if msg == "" {
			msg = string(bytes.TrimSpace(data))
		}
		return nil, provider.Operation(provider.BackendKV, op, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	case decodeErr != nil:
		return nil, provider.Operation(provider.BackendKV, op, fmt.Errorf("decode reply: %w", decodeErr))
	case out.Error != "":
		return nil, provider.Operation(provider.BackendKV, op, fmt.Errorf("%s", out.Error))
	}
	return out.Result, nil
}
