// Package ratelimit implements sliding-window admission control per caller.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/modelrelay/gateway/internal/shared/logging"
	"github.com/modelrelay/gateway/internal/shared/redis"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter admits or rejects calls for a caller.
type Limiter interface {
	Admit(ctx context.Context, callerID string) (Decision, error)
}

// RedisLimiter keeps one sorted set of call markers per caller in Redis,
// scored by timestamp, so the window is shared across gateway instances.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter creates a limiter allowing limit calls per window.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window, now: time.Now}
}

// Admit checks and records one call. On storage failure it fails open:
// rate limiting protects cost, not correctness, so availability wins. The
// condition is logged, never swallowed silently.
func (l *RedisLimiter) Admit(ctx context.Context, callerID string) (Decision, error) {
	key := fmt.Sprintf("ratelimit:%s", callerID)
	now := l.now()

	allowed, remaining, err := l.client.SlidingWindowAdmit(ctx, key, l.window, l.limit, now)
	if err != nil {
		logging.Warn().Err(err).Str("caller_id", callerID).
			Msg("rate limiter storage failure, failing open")
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: now.Add(l.window)}, nil
	}

	resetAt := now.Add(l.window)
	if oldest, err := l.client.OldestWindowMarker(ctx, key); err == nil && !oldest.IsZero() {
		resetAt = oldest.Add(l.window)
	}

	return Decision{Allowed: allowed, Limit: l.limit, Remaining: remaining, ResetAt: resetAt}, nil
}

// MemoryLimiter implements the same sliding window in process memory. It is
// used in tests and when no Redis URL is configured; it cannot coordinate
// across gateway instances.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	markers map[string][]time.Time
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		markers: make(map[string][]time.Time),
	}
}

// Admit checks and records one call against the in-process window.
func (l *MemoryLimiter) Admit(ctx context.Context, callerID string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.markers[callerID][:0]
	for _, t := range l.markers[callerID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	resetAt := now.Add(l.window)
	if len(kept) > 0 {
		resetAt = kept[0].Add(l.window)
	}

	if len(kept) >= l.limit {
		l.markers[callerID] = kept
		return Decision{Allowed: false, Limit: l.limit, Remaining: 0, ResetAt: resetAt}, nil
	}

	kept = append(kept, now)
	l.markers[callerID] = kept
	return Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - len(kept),
		ResetAt:   resetAt,
	}, nil
}
