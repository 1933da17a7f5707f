// Package redis implements store.KVStore against github.com/redis/go-redis/v9,
// and optionally mirrors kernel process events onto a durable
// goa.design/pulse stream so a restarted Status Projection or external
// observer can replay recent activity instead of only seeing it live.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"goa.design/pulse/streaming"

	"github.com/spacebot/kernel/store"
)

// Options configures the Redis-backed KV store.
type Options struct {
	Redis            *redis.Client
	KeyPrefix        string
	OperationTimeout time.Duration
}

// Client satisfies store.KVStore.
type Client struct {
	redis   *redis.Client
	prefix  string
	timeout time.Duration
}

var _ store.KVStore = (*Client)(nil)

func New(opts Options) (*Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis: client is required")
	}
	timeout := opts.OperationTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{redis: opts.Redis, prefix: opts.KeyPrefix, timeout: timeout}, nil
}

func (c *Client) key(k string) string { return c.prefix + k }

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	v, err := c.redis.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	return v, err
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.redis.Set(ctx, c.key(key), value, ttl).Err()
}

func (c *Client) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.redis.Del(ctx, c.key(key)).Err()
}

// EventMirror durably records process events on a Pulse stream so
// consumers that were offline can catch up. The in-process hooks.Bus
// remains the path every live subscriber actually uses; this is purely a
// durability backstop.
type EventMirror struct {
	stream streaming.Sink
}

// NewEventMirror returns an EventMirror that appends to the named stream.
func NewEventMirror(ctx context.Context, client *streaming.Client, streamName string) (*EventMirror, error) {
	stream, err := client.NewStream(ctx, streamName)
	if err != nil {
		return nil, err
	}
	sink, err := stream.NewSink(ctx, "kernel-events")
	if err != nil {
		return nil, err
	}
	return &EventMirror{stream: sink}, nil
}

func (m *EventMirror) Append(ctx context.Context, eventName string, payload []byte) error {
	_, err := m.stream.Add(ctx, eventName, payload)
	return err
}
