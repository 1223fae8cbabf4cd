// Package redisstore wraps the Redis operations used by the H3 hotspot store.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/hotspot-cache/internal/core/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)
	if err := ping(ctx, rdb); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &Client{rdb: rdb}, nil
}

func ping(ctx context.Context, rdb *redis.Client) error {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveStoreOp("redis_ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error { return ping(ctx, c.rdb) }

// MGet returns a map of found keys to their values; missing keys are absent.
func (c *Client) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	start := time.Now()
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	observability.ObserveStoreOp("redis_mget", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d keys: %w", len(keys), err)
	}

	out := make(map[string][]byte, len(vals))
	for i, v := range vals {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			out[keys[i]] = []byte(t)
		case []byte:
			out[keys[i]] = t
		default:
			out[keys[i]] = fmt.Append(nil, t)
		}
	}
	return out, nil
}

// Write is one record value plus the sets its id belongs to.
type Write struct {
	Key     string
	Value   []byte
	Member  string
	SetKeys []string
}

// WriteIndexed stores every value and adds its member to each set in a single pipeline.
func (c *Client) WriteIndexed(ctx context.Context, ws []Write) error {
	if len(ws) == 0 {
		return nil
	}
	start := time.Now()
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, w := range ws {
			p.Set(ctx, w.Key, w.Value, 0)
			for _, sk := range w.SetKeys {
				p.SAdd(ctx, sk, w.Member)
			}
		}
		return nil
	})
	observability.ObserveStoreOp("redis_write_indexed", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis indexed write of %d records: %w", len(ws), err)
	}
	return nil
}

// SUnion returns the union of the members of the given sets.
func (c *Client) SUnion(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	start := time.Now()
	members, err := c.rdb.SUnion(ctx, keys...).Result()
	observability.ObserveStoreOp("redis_sunion", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis SUNION %d sets: %w", len(keys), err)
	}
	return members, nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	observability.ObserveStoreOp("redis_del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

// DeleteMatching collects every key matching pattern over a full SCAN and then
// unlinks them in chunks. It returns the number of keys removed.
func (c *Client) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	const chunk = 500
	start := time.Now()
	var (
		cursor  uint64
		keys    []string
		removed int
		err     error
	)
	defer func() { observability.ObserveStoreOp("redis_delete_matching", err, time.Since(start).Seconds()) }()

	// unlinking mid-scan can shift the cursor past live keys
	for {
		var batch []string
		batch, cursor, err = c.rdb.Scan(ctx, cursor, pattern, chunk).Result()
		if err != nil {
			return 0, fmt.Errorf("redis SCAN %q: %w", pattern, err)
		}
		keys = append(keys, batch...)
		if cursor == 0 {
			break
		}
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	for len(keys) > 0 {
		n := min(chunk, len(keys))
		if err = c.rdb.Unlink(ctx, keys[:n]...).Err(); err != nil {
			return removed, fmt.Errorf("redis UNLINK %d keys: %w", n, err)
		}
		removed += n
		keys = keys[n:]
	}
	return removed, nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
