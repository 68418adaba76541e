package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/rate_limit.lua
var rateLimitScript string

type Client struct {
	rdb         *redis.Client
	limitScript *redis.Script
}

// RateLimitResult is the state of one fixed window after a hit
type RateLimitResult struct {
	Allowed    bool
	Count      int64
	Limit      int64
	RetryAfter time.Duration
}

// Remaining returns how many hits are left in the current window
func (r RateLimitResult) Remaining() int64 {
	if r.Count >= r.Limit {
		return 0
	}
	return r.Limit - r.Count
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
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

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing connection
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:         rdb,
		limitScript: redis.NewScript(rateLimitScript),
	}
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Allow counts one hit against key in a fixed window of the given length
func (c *Client) Allow(ctx context.Context, key string, limit int64, window time.Duration) (RateLimitResult, error) {
	res, err := c.limitScript.Run(ctx, c.rdb, []string{fmt.Sprintf("ratelimit:%s", key)}, window.Milliseconds()).Result()
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("rate limit script failed: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return RateLimitResult{}, fmt.Errorf("unexpected script result type")
	}
	count, ok1 := vals[0].(int64)
	ttl, ok2 := vals[1].(int64)
	if !ok1 || !ok2 {
		return RateLimitResult{}, fmt.Errorf("unexpected script result type")
	}

	return RateLimitResult{
		Allowed:    count <= limit,
		Count:      count,
		Limit:      limit,
		RetryAfter: time.Duration(ttl) * time.Millisecond,
	}, nil
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// ClaimIdempotencyKey stores key only if absent. Returns false when it was already claimed.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Result()
}

// GetIdempotencyKey returns the stored value, or "" when absent
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// DeleteIdempotencyKey removes a claim, used when the guarded work failed
func (c *Client) DeleteIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("idempotency:%s", key)).Err()
}
