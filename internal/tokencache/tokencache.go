// Package tokencache caches OAuth access tokens for tenant Graph/Commerce
// calls in Redis, and guarantees at most one concurrent token acquisition
// per tenant via golang.org/x/sync/singleflight so a burst of requests for
// the same tenant does not hammer the token endpoint.
package tokencache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/savegress/optimizer/backend/internal/repository"
)

// minRemainingTTL is the safety margin subtracted from a token's reported
// expiry before it is considered usable: a token that expires in less than
// this window is treated as already expired so callers never race a
// provider-side expiry while a request is in flight.
const minRemainingTTL = 300 * time.Second

// minCacheTTL is the floor applied to the computed cache TTL so a token
// that is already close to minRemainingTTL isn't cached for a useless
// fraction of a second.
const minCacheTTL = 60 * time.Second

// Acquirer fetches a fresh access token for a tenant from the identity
// provider. Implemented by directorysync.TokenAcquirer and
// commerce.TokenAcquirer.
type Acquirer interface {
	AcquireToken(ctx context.Context, tenantID string) (token string, expiresAt time.Time, err error)
}

// Cache is the Token Cache component: a Redis-backed store of access
// tokens keyed by tenant, with request coalescing via singleflight.
type Cache struct {
	redis    *repository.RedisClient
	acquirer Acquirer
	group    singleflight.Group
}

func New(redisClient *repository.RedisClient, acquirer Acquirer) *Cache {
	return &Cache{redis: redisClient, acquirer: acquirer}
}

type cachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func cacheKey(tenantID string) string {
	return fmt.Sprintf("tokencache:%s", tenantID)
}

// Get returns a usable access token for tenantID, serving from Redis when
// the cached token still has at least minRemainingTTL left, and otherwise
// acquiring a fresh one. Concurrent callers for the same tenant share a
// single in-flight acquisition.
func (c *Cache) Get(ctx context.Context, tenantID string) (string, error) {
	if cached, ok := c.getCached(ctx, tenantID); ok {
		return cached, nil
	}

	result, err, _ := c.group.Do(tenantID, func() (interface{}, error) {
		// Re-check after winning the singleflight race: another caller may
		// have populated the cache while we waited to be scheduled.
		if cached, ok := c.getCached(ctx, tenantID); ok {
			return cached, nil
		}

		token, expiresAt, err := c.acquirer.AcquireToken(ctx, tenantID)
		if err != nil {
			return "", err
		}

		if err := c.store(ctx, tenantID, token, expiresAt); err != nil {
			return token, nil // cache write failures must not fail the caller
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops the cached token for a tenant. Called on 401/403 from
// the HTTP client core so the next Get forces a fresh acquisition.
func (c *Cache) Invalidate(ctx context.Context, tenantID string) error {
	return c.redis.Del(ctx, cacheKey(tenantID))
}

func (c *Cache) getCached(ctx context.Context, tenantID string) (string, bool) {
	raw, found, err := c.redis.GetString(ctx, cacheKey(tenantID))
	if err != nil || !found {
		return "", false
	}

	var entry cachedToken
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return "", false
	}

	if time.Until(entry.ExpiresAt) < minRemainingTTL {
		return "", false
	}
	return entry.Token, true
}

func (c *Cache) store(ctx context.Context, tenantID, token string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt) - minRemainingTTL
	if ttl < minCacheTTL {
		ttl = minCacheTTL
	}

	entry := cachedToken{Token: token, ExpiresAt: expiresAt}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cached token: %w", err)
	}

	return c.redis.SetString(ctx, cacheKey(tenantID), string(payload), ttl)
}
