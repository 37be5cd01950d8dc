// Package redis connects to Redis and provides the fixed-window counter
// behind the auth rate limiter.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis failed: %w", err)
	}

	return client, nil
}

// Counter implements middleware.Counter with INCR and EXPIRE.
type Counter struct {
	client redis.Cmdable
}

func NewCounter(client redis.Cmdable) *Counter {
	return &Counter{client: client}
}

// Incr bumps key and starts its expiry on the first hit of a window.
//
// A later hit checks the TTL too: if the EXPIRE after the first hit was
// lost, the key has none (TTL -1) and would otherwise count forever.
func (c *Counter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing %s: %w", key, err)
	}

	if n > 1 {
		ttl, err := c.client.TTL(ctx, key).Result()
		if err != nil {
			return n, fmt.Errorf("reading ttl of %s: %w", key, err)
		}
		if ttl >= 0 {
			return n, nil
		}
	}

	if err := c.client.Expire(ctx, key, window).Err(); err != nil {
		return n, fmt.Errorf("setting expiry on %s: %w", key, err)
	}
	return n, nil
}
