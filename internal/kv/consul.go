package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/consul/api"

	"github.com/roach88/famcal/internal/provider"
)

// ConsulClient stores blobs in Consul's KV store. Consul's ModifyIndex is the
// version token, so ConsulClient supports compare-and-swap.
type ConsulClient struct {
	client *api.Client
	prefix string
}

var _ CASClient = (*ConsulClient)(nil)

// NewConsulClient connects to the agent at addr. Keys are stored under prefix
// (may be empty).
func NewConsulClient(addr, token, prefix string) (*ConsulClient, error) {
	cfg := api.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	if token != "" {
		cfg.Token = token
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}
	return &ConsulClient{client: client, prefix: prefix}, nil
}

func (c *ConsulClient) path(key string) string {
	return c.prefix + key
}

// Get implements Client.
func (c *ConsulClient) Get(ctx context.Context, key string) (*Entry, error) {
	q := (&api.QueryOptions{}).WithContext(ctx)
	pair, _, err := c.client.KV().Get(c.path(key), q)
	if err != nil {
		return nil, provider.Classify(provider.BackendKV, "get", err)
	}
	if pair == nil {
		return nil, nil
	}
	return &Entry{Value: pair.Value, Version: pair.ModifyIndex}, nil
}

// Put implements Client.
func (c *ConsulClient) Put(ctx context.Context, key string, value []byte) error {
	w := (&api.WriteOptions{}).WithContext(ctx)
	_, err := c.client.KV().Put(&api.KVPair{Key: c.path(key), Value: value}, w)
	return provider.Classify(provider.BackendKV, "put", err)
}

// CompareAndSwap implements CASClient.
func (c *ConsulClient) CompareAndSwap(ctx context.Context, key string, value []byte, version uint64) (bool, error) {
	w := (&api.WriteOptions{}).WithContext(ctx)
	ok, _, err := c.client.KV().CAS(&api.KVPair{Key: c.path(key), Value: value, ModifyIndex: version}, w)
	if err != nil {
		return false, provider.Classify(provider.BackendKV, "cas", err)
	}
	return ok, nil
}

// Ping asks the agent for the current raft leader.
func (c *ConsulClient) Ping(ctx context.Context) error {
	q := (&api.QueryOptions{}).WithContext(ctx)
	leader, err := c.client.Status().LeaderWithQueryOptions(q)
	if err != nil {
		return provider.Classify(provider.BackendKV, "ping", err)
	}
	if leader == "" {
		return provider.Unavailable(provider.BackendKV, "ping", errors.New("no cluster leader"))
	}
	return nil
}
