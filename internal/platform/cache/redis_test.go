package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/ordercore/internal/domain"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisCartCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCartCache(client, ttl), mr
}

func sampleCart(identity domain.CartIdentity) domain.Cart {
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	cart := domain.Cart{
		ID:       "cart-1",
		Identity: identity,
		Currency: "USD",
		Lines: []domain.CartLine{{
			ProductID: "p1",
			Quantity:  3,
			Price:     domain.MustParseMoney("2.50", "USD"),
			AddedAt:   at,
			UpdatedAt: at,
		}},
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := cart.Recalculate(); err != nil {
		panic(err)
	}
	return cart
}

func TestPutThenGet(t *testing.T) {
	cache, _ := setupTestRedis(t, time.Minute)
	ctx := context.Background()
	identity := domain.UserIdentity("u1")

	require.NoError(t, cache.Put(ctx, sampleCart(identity)))

	got, ok, err := cache.Get(ctx, identity)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cart-1", got.ID)
	assert.Equal(t, 3, got.ItemCount)
	assert.Equal(t, "7.50", got.TotalAmount.StringFixed())
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "2.50", got.Lines[0].Price.StringFixed())
}

func TestGetMiss(t *testing.T) {
	cache, _ := setupTestRedis(t, time.Minute)

	_, ok, err := cache.Get(context.Background(), domain.GuestIdentity("nobody"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetInvalidPayload(t *testing.T) {
	cache, mr := setupTestRedis(t, time.Minute)
	identity := domain.GuestIdentity("sess-1")
	require.NoError(t, mr.Set(cacheKey(identity), "{not json"))

	_, _, err := cache.Get(context.Background(), identity)
	require.ErrorContains(t, err, "unmarshal cart failed")
}

func TestPutAppliesTTLWithJitter(t *testing.T) {
	cache, mr := setupTestRedis(t, 10*time.Minute)
	identity := domain.UserIdentity("u2")

	require.NoError(t, cache.Put(context.Background(), sampleCart(identity)))

	ttl := mr.TTL(cacheKey(identity))
	assert.GreaterOrEqual(t, ttl, 10*time.Minute)
	assert.LessOrEqual(t, ttl, 12*time.Minute)
}

func TestPutRejectsInvalidIdentity(t *testing.T) {
	cache, _ := setupTestRedis(t, time.Minute)
	cart := sampleCart(domain.UserIdentity("u3"))
	cart.Identity = domain.CartIdentity{}

	require.Error(t, cache.Put(context.Background(), cart))
}

func TestInvalidate(t *testing.T) {
	cache, mr := setupTestRedis(t, time.Minute)
	ctx := context.Background()
	identity := domain.GuestIdentity("sess-2")

	require.NoError(t, cache.Put(ctx, sampleCart(identity)))
	assert.True(t, mr.Exists(cacheKey(identity)))

	require.NoError(t, cache.Invalidate(ctx, identity))
	assert.False(t, mr.Exists(cacheKey(identity)))
	require.NoError(t, cache.Invalidate(ctx, identity))
}

func TestUnreachableRedisReturnsError(t *testing.T) {
	cache, mr := setupTestRedis(t, time.Minute)
	mr.Close()

	_, _, err := cache.Get(context.Background(), domain.UserIdentity("u1"))
	require.Error(t, err)
	require.Error(t, cache.Ping(context.Background()))
}
