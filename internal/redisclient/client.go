package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/claim_key.lua
var claimKeyScript string

type Client struct {
	rdb         *redis.Client
	claimScript *redis.Script
	ttl         time.Duration
}

// NewClient creates a new Redis client with Lua scripts loaded. ttl bounds
// how long an idempotency claim is held.
func NewClient(addr, password string, db int, ttl time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb, ttl), nil
}

// NewFromRedis wraps an existing connection
func NewFromRedis(rdb *redis.Client, ttl time.Duration) *Client {
	return &Client{
		rdb:         rdb,
		claimScript: redis.NewScript(claimKeyScript),
		ttl:         ttl,
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Claim atomically takes ownership of an idempotency key.
// Returns true if the caller now owns it, false if it is already claimed.
func (c *Client) Claim(ctx context.Context, key string) (bool, error) {
	result, err := c.claimScript.Run(ctx, c.rdb, []string{idempotencyKey(key)}, "1", c.ttl.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key script failed: %w", err)
	}

	claimed, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type %T", result)
	}

	return claimed == 1, nil
}

// Release drops a claim so the key can be retried
func (c *Client) Release(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, idempotencyKey(key)).Err()
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:order:%s", key)
}
