package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

type Client struct {
	client *redis.Client
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Get retrieves a value by key
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// Set stores a value with TTL
func (c *Client) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// slidingWindowScript trims expired markers, counts the window, and inserts
// a new marker unless the ceiling is hit, all in one atomic unit so
// concurrent admits across gateway instances cannot both pass the count
// check. Returns {admitted, count after the call}.
var slidingWindowScript = redis.NewScript(`
local cutoff = ARGV[1]
local limit = tonumber(ARGV[2])
local marker = ARGV[3]
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, cutoff)
local count = redis.call('ZCARD', KEYS[1])
if count >= limit then
	return {0, count}
end
redis.call('ZADD', KEYS[1], marker, marker)
redis.call('PEXPIRE', KEYS[1], ttl)
return {1, count + 1}
`)

// SlidingWindowAdmit checks and records one event against a sliding window
// kept as a timestamp-scored sorted set. It returns whether the event was
// admitted and how many slots remain.
func (c *Client) SlidingWindowAdmit(ctx context.Context, key string, window time.Duration, limit int, now time.Time) (bool, int, error) {
	cutoff := now.Add(-window).UnixNano()

	res, err := slidingWindowScript.Run(ctx, c.client, []string{key},
		cutoff, limit, now.UnixNano(), window.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, fmt.Errorf("sliding window script returned %T", res)
	}
	admitted, _ := vals[0].(int64)
	count, _ := vals[1].(int64)

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return admitted == 1, remaining, nil
}

// OldestWindowMarker returns the timestamp of the oldest marker in the set,
// or the zero time when the set is empty.
func (c *Client) OldestWindowMarker(ctx context.Context, key string) (time.Time, error) {
	vals, err := c.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return time.Time{}, err
	}
	if len(vals) == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, int64(vals[0].Score)), nil
}
