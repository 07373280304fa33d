// Package cache holds the redis read-through cache for carts. Entries are advisory: the store stays
// authoritative and every failure here is reported to the caller for logging only.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/hanko-field/ordercore/internal/domain"
)

const defaultTTL = 15 * time.Minute

// RedisCartCache stores serialised carts under cart:<identity key>.
type RedisCartCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
	jitter  func(max time.Duration) time.Duration
}

// NewRedisCartCache builds a cache with the given base TTL. Each write adds up to a fifth of the TTL
// as jitter so entries written together do not expire together.
func NewRedisCartCache(client redis.UniversalClient, ttl time.Duration) *RedisCartCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCartCache{
		client:  client,
		baseTTL: ttl,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return rand.N(max)
		},
	}
}

// Get returns the cached cart. A miss is reported as ok=false with a nil error.
func (c *RedisCartCache) Get(ctx context.Context, identity domain.CartIdentity) (domain.Cart, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Cart{}, false, nil
	}
	if err != nil {
		return domain.Cart{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return domain.Cart{}, false, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return cart, true, nil
}

// Put writes the cart under its identity.
func (c *RedisCartCache) Put(ctx context.Context, cart domain.Cart) error {
	if err := cart.Identity.Validate(); err != nil {
		return fmt.Errorf("cache cart: %w", err)
	}
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	ttl := c.baseTTL + c.jitter(c.baseTTL/5)
	if err := c.client.Set(ctx, cacheKey(cart.Identity), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Invalidate drops the identity's entry. Missing keys are not an error.
func (c *RedisCartCache) Invalidate(ctx context.Context, identity domain.CartIdentity) error {
	if err := c.client.Del(ctx, cacheKey(identity)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Ping reports whether redis is reachable.
func (c *RedisCartCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func cacheKey(identity domain.CartIdentity) string {
	return "cart:" + identity.Key()
}
