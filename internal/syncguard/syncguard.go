// Package syncguard implements the concurrency substrate shared by
// directory sync and commerce sync: a Redis-backed fingerprint lock
// enforcing at-most-one in-flight execution per (tenant, operation), and
// a process-wide admission-control rate limiter for the "one sync per
// tenant per minute" edge policy.
package syncguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/savegress/optimizer/backend/internal/repository"
)

// ErrAlreadyRunning is returned when a fingerprint is already held.
var ErrAlreadyRunning = errors.New("syncguard: operation already running for this fingerprint")

// Guard holds the Redis-backed fingerprint lock used to coalesce
// concurrent sync/analysis invocations for the same (tenant, operation).
type Guard struct {
	redis *repository.RedisClient
	ttl   time.Duration
}

// New builds a Guard whose locks auto-expire after ttl, so a crashed
// holder never wedges a fingerprint forever.
func New(redisClient *repository.RedisClient, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Guard{redis: redisClient, ttl: ttl}
}

func lockKey(fingerprint string) string {
	return fmt.Sprintf("syncguard:%s", fingerprint)
}

// Acquire attempts to take the lock for fingerprint, returning a release
// function on success or ErrAlreadyRunning if another caller already
// holds it. The caller must always invoke release once done, even on its
// own failure path, so the fingerprint frees up before ttl.
func (g *Guard) Acquire(ctx context.Context, fingerprint string) (release func(context.Context), err error) {
	ok, err := g.redis.AcquireLock(ctx, lockKey(fingerprint), g.ttl)
	if err != nil {
		return nil, fmt.Errorf("syncguard: acquire %s: %w", fingerprint, err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}

	release = func(releaseCtx context.Context) {
		_ = g.redis.Del(releaseCtx, lockKey(fingerprint))
	}
	return release, nil
}

// Run acquires the fingerprint, runs fn, and always releases before
// returning - the common case callers want instead of manual
// Acquire/release bookkeeping.
func (g *Guard) Run(ctx context.Context, fingerprint string, fn func(context.Context) error) error {
	release, err := g.Acquire(ctx, fingerprint)
	if err != nil {
		return err
	}
	defer release(context.WithoutCancel(ctx))
	return fn(ctx)
}

// Fingerprint builds the canonical (tenant, operation) fingerprint key.
func Fingerprint(tenantID, operation string) string {
	return tenantID + ":" + operation
}

// Limiter is the process-wide, per-(tenant,operation) admission control
// limiter admitting requests per key at the interval and burst given to
// NewLimiter. It
// lazily creates one golang.org/x/time/rate.Limiter per key, matching the
// fact that keys are unbounded (one per tenant) but each is cheap and
// rarely touched more than once a minute.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewLimiter builds a Limiter admitting one event per interval with the
// given burst, per key.
func NewLimiter(interval time.Duration, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Every(interval),
		burst:    burst,
	}
}

// Allow reports whether an event for key is permitted right now.
func (l *Limiter) Allow(key string) bool {
	return l.forKey(key).Allow()
}

func (l *Limiter) forKey(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[key] = lim
	}
	return lim
}
