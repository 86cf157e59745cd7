package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter answers whether a key has exhausted its request budget and, when it
// has not, records the request. Check and record happen in a single call.
type Limiter interface {
	IsLimited(ctx context.Context, key string) bool
}

// Window is an in-process sliding-window limiter. It keeps per-key request
// timestamps and evicts those older than the window on every call.
//
// State is process-local: in multi-process deployments each process counts
// independently, so the bound is best-effort. Use RedisLimiter there.
type Window struct {
	mu        sync.Mutex
	buckets   map[string][]time.Time
	window    time.Duration
	max       int
	now       func() time.Time
	lastSweep time.Time
}

// NewWindow builds an in-process limiter allowing max requests per trailing
// window.
func NewWindow(window time.Duration, max int) *Window {
	if window <= 0 {
		window = time.Hour
	}
	if max <= 0 {
		max = 5
	}
	return &Window{
		buckets: make(map[string][]time.Time),
		window:  window,
		max:     max,
		now:     time.Now,
	}
}

func (w *Window) IsLimited(_ context.Context, key string) bool {
	now := w.now()
	cutoff := now.Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()

	// At most one full sweep per window, so idle keys do not pile up forever.
	if now.Sub(w.lastSweep) >= w.window {
		for k, b := range w.buckets {
			if len(b) == 0 || !b[len(b)-1].After(cutoff) {
				delete(w.buckets, k)
			}
		}
		w.lastSweep = now
	}

	bucket := w.buckets[key]
	kept := bucket[:0]
	for _, ts := range bucket {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= w.max {
		w.buckets[key] = kept
		return true
	}
	w.buckets[key] = append(kept, now)
	return false
}

// slidingWindowLua prunes stale entries, records the new request, counts and
// refreshes expiry as one atomic server-side operation, closing the
// read-count/record race between processes.
const slidingWindowLua = `
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
local c = redis.call('ZCARD', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[4])
return c
`

const redisKeyPrefix = "rl:"

// RedisLimiter is a sliding-window limiter backed by a shared Redis ZSET,
// safe across processes. Redis failures are logged and fail open.
type RedisLimiter struct {
	rdb    *redis.Client
	window time.Duration
	max    int
	logger *slog.Logger
	script *redis.Script
}

// NewRedisLimiter builds a shared limiter with the same semantics as Window.
func NewRedisLimiter(rdb *redis.Client, logger *slog.Logger, window time.Duration, max int) *RedisLimiter {
	if window <= 0 {
		window = time.Hour
	}
	if max <= 0 {
		max = 5
	}
	return &RedisLimiter{
		rdb:    rdb,
		window: window,
		max:    max,
		logger: logger,
		script: redis.NewScript(slidingWindowLua),
	}
}

func (r *RedisLimiter) IsLimited(ctx context.Context, key string) bool {
	limited, err := r.check(ctx, key)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("redis rate limiter failure, allowing request", slog.String("error", err.Error()))
		}
		return false
	}
	return limited
}

func (r *RedisLimiter) check(ctx context.Context, key string) (bool, error) {
	if r == nil || r.rdb == nil {
		return false, nil
	}
	now := r.nowUnix()
	windowSec := int64(r.window / time.Second)
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())

	res, err := r.script.Run(ctx, r.rdb,
		[]string{redisKeyPrefix + key},
		now-windowSec, now, member, windowSec+10,
	).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit eval: %w", err)
	}
	count, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("ratelimit invalid result %T", res)
	}
	return count > int64(r.max), nil
}

func (r *RedisLimiter) nowUnix() int64 {
	return time.Now().Unix()
}

// Fallback prefers the shared limiter and degrades to the local one when the
// shared backend is unconfigured or its last evaluation failed.
type Fallback struct {
	shared *RedisLimiter
	local  Limiter
	logger *slog.Logger
}

// NewFallback wires the preferred shared limiter (nil when Redis is not
// configured) in front of the local window limiter.
func NewFallback(shared *RedisLimiter, local Limiter, logger *slog.Logger) *Fallback {
	return &Fallback{shared: shared, local: local, logger: logger}
}

func (f *Fallback) IsLimited(ctx context.Context, key string) bool {
	if f.shared != nil && f.shared.rdb != nil {
		limited, err := f.shared.check(ctx, key)
		if err == nil {
			return limited
		}
		if f.logger != nil {
			f.logger.Warn("shared rate limiter unavailable, using local window", slog.String("error", err.Error()))
		}
	}
	if f.local == nil {
		return false
	}
	return f.local.IsLimited(ctx, key)
}
