package main

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter enforces the sliding-window quota on login/register attempts.
// Allow reports whether the caller's key is still within quota, recording
// the attempt as a side effect when it is.
type RateLimiter interface {
	Allow(key string) bool
	SenderCount() int
	Close()
}

// senderCounter tracks one key's attempt timestamps within the last hour;
// entries older than a minute or an hour are pruned lazily on Allow and
// periodically by cleanupLoop.
type senderCounter struct {
	hits []time.Time
}

// MemoryRateLimiter is the default, always-available RateLimiter
// implementation: an in-process map of senderCounters guarded by a mutex.
type MemoryRateLimiter struct {
	mu        sync.Mutex
	counters  map[string]*senderCounter
	perMinute int
	perHour   int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMemoryRateLimiter creates a limiter and starts its cleanup goroutine.
func NewMemoryRateLimiter(perMinute, perHour int) *MemoryRateLimiter {
	r := &MemoryRateLimiter{
		counters:  make(map[string]*senderCounter),
		perMinute: perMinute,
		perHour:   perHour,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Allow records one attempt for key and reports whether it is within both
// the per-minute and per-hour quota.
func (r *MemoryRateLimiter) Allow(key string) bool {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[key]
	if !ok {
		c = &senderCounter{}
		r.counters[key] = c
	}
	c.hits = pruneOlderThan(c.hits, now.Add(-time.Hour))

	minuteCount := 0
	for _, t := range c.hits {
		if now.Sub(t) <= time.Minute {
			minuteCount++
		}
	}
	if minuteCount >= r.perMinute || len(c.hits) >= r.perHour {
		return false
	}

	c.hits = append(c.hits, now)
	return true
}

func pruneOlderThan(hits []time.Time, cutoff time.Time) []time.Time {
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// cleanupLoop periodically evicts keys with no recent activity.
func (r *MemoryRateLimiter) cleanupLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case now := <-ticker.C:
			r.mu.Lock()
			for key, c := range r.counters {
				c.hits = pruneOlderThan(c.hits, now.Add(-time.Hour))
				if len(c.hits) == 0 {
					delete(r.counters, key)
				}
			}
			r.mu.Unlock()
		}
	}
}

// SenderCount reports the number of currently tracked keys, wired into the
// metrics server as a gauge.
func (r *MemoryRateLimiter) SenderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.counters)
}

// Close stops the cleanup goroutine.
func (r *MemoryRateLimiter) Close() {
	close(r.stopCh)
	<-r.doneCh
}

// RedisRateLimiter shares quota state across multiple server processes
// using sorted sets as sliding windows, falling back to an in-process
// MemoryRateLimiter when Redis is unreachable.
type RedisRateLimiter struct {
	client    *redis.Client
	perMinute int
	perHour   int
	fallback  *MemoryRateLimiter
	log       *zap.Logger
}

// NewRedisRateLimiter dials addr and returns a limiter backed by it; the
// connection is verified with a PING so callers learn immediately if
// Redis is unreachable rather than on the first request.
func NewRedisRateLimiter(ctx context.Context, addr string, perMinute, perHour int, log *zap.Logger) (*RedisRateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ratelimit: redis ping: %w", err)
	}
	return &RedisRateLimiter{
		client:    client,
		perMinute: perMinute,
		perHour:   perHour,
		fallback:  NewMemoryRateLimiter(perMinute, perHour),
		log:       log,
	}, nil
}

// Allow checks and records the attempt in two sorted sets (one per window)
// keyed by key, pruning expired members before counting. On any Redis
// error it degrades to the in-memory fallback rather than failing open or
// closed silently.
func (r *RedisRateLimiter) Allow(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	now := time.Now()
	ok, err := r.allowWindow(ctx, "rl:min:"+key, now, time.Minute, r.perMinute)
	if err != nil {
		r.log.Warn("ratelimit: redis unavailable, using fallback", zap.Error(err))
		return r.fallback.Allow(key)
	}
	if !ok {
		return false
	}
	ok, err = r.allowWindow(ctx, "rl:hour:"+key, now, time.Hour, r.perHour)
	if err != nil {
		r.log.Warn("ratelimit: redis unavailable, using fallback", zap.Error(err))
		return r.fallback.Allow(key)
	}
	return ok
}

func (r *RedisRateLimiter) allowWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error) {
	cutoff := now.Add(-window)
	if err := r.client.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff.UnixNano(), 10)).Err(); err != nil {
		return false, err
	}
	count, err := r.client.ZCard(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if int(count) >= limit {
		return false, nil
	}
	member := strconv.FormatInt(now.UnixNano(), 10)
	if err := r.client.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		return false, err
	}
	return true, r.client.Expire(ctx, key, window).Err()
}

// SenderCount reports the number of keys in Redis' currently selected
// logical database — an approximation, since a production deployment
// would share the database with other keyspaces; acceptable for a gauge.
func (r *RedisRateLimiter) SenderCount() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return r.fallback.SenderCount()
	}
	return int(n)
}

// Close releases the Redis client and the fallback limiter's goroutine.
func (r *RedisRateLimiter) Close() {
	r.fallback.Close()
	_ = r.client.Close()
}

// NewRateLimiter picks the Redis-backed implementation when
// Config.RateLimitRedisAddr is set, falling back to in-memory when it
// isn't or when the initial connection fails.
func NewRateLimiter(ctx context.Context, cfg *Config, log *zap.Logger) RateLimiter {
	if cfg.RateLimitRedisAddr == "" {
		return NewMemoryRateLimiter(int(cfg.RateLimitPerMinute), int(cfg.RateLimitPerHour))
	}
	rl, err := NewRedisRateLimiter(ctx, cfg.RateLimitRedisAddr, int(cfg.RateLimitPerMinute), int(cfg.RateLimitPerHour), log)
	if err != nil {
		log.Warn("ratelimit: falling back to in-memory limiter", zap.Error(err))
		return NewMemoryRateLimiter(int(cfg.RateLimitPerMinute), int(cfg.RateLimitPerHour))
	}
	return rl
}
