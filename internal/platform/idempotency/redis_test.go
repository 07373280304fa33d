package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreReserveLifecycle(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	res, err := store.Reserve(ctx, "key-1|user:u1", "fp-1", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)
	assert.Equal(t, time.Hour, mr.TTL(redisKeyPrefix+storageKey("key-1|user:u1")))

	res, err = store.Reserve(ctx, "key-1|user:u1", "fp-1", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatePending, res.State)

	_, err = store.Reserve(ctx, "key-1|user:u1", "fp-other", fixedTime, time.Hour)
	require.ErrorIs(t, err, ErrFingerprintMismatch)

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", "12")
	require.NoError(t, store.SaveResponse(ctx, "key-1|user:u1", "fp-1", Response{
		Status:  http.StatusCreated,
		Headers: header,
		Body:    []byte(`{"id":"o1"}`),
	}, fixedTime, 2*time.Hour))

	res, err = store.Reserve(ctx, "key-1|user:u1", "fp-1", fixedTime, time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReservationStateCompleted, res.State)
	assert.Equal(t, http.StatusCreated, res.Record.ResponseStatus)
	assert.Equal(t, `{"id":"o1"}`, string(res.Record.ResponseBody))
	assert.Equal(t, []string{"application/json"}, res.Record.ResponseHeaders["Content-Type"])
	assert.NotContains(t, res.Record.ResponseHeaders, "Content-Length")
	assert.Equal(t, 2*time.Hour, mr.TTL(redisKeyPrefix+storageKey("key-1|user:u1")))
}

func TestRedisStoreSaveRejectsForeignFingerprint(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "key-2", "fp-1", fixedTime, time.Hour)
	require.NoError(t, err)

	err = store.SaveResponse(ctx, "key-2", "fp-2", Response{Status: http.StatusOK}, fixedTime, time.Hour)
	require.ErrorIs(t, err, ErrFingerprintMismatch)
}

func TestRedisStoreReleaseOnlyRemovesOwnReservation(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	id := redisKeyPrefix + storageKey("key-3")

	_, err := store.Reserve(ctx, "key-3", "fp-1", fixedTime, time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.Release(ctx, "key-3", "fp-2"))
	assert.True(t, mr.Exists(id))

	require.NoError(t, store.Release(ctx, "key-3", "fp-1"))
	assert.False(t, mr.Exists(id))

	require.NoError(t, store.Release(ctx, "missing", "fp-1"))
}

func TestRedisStoreExpiredKeyCanBeReserved(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "key-4", "fp-1", fixedTime, time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	res, err := store.Reserve(ctx, "key-4", "fp-2", fixedTime.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)

	removed, err := store.CleanupExpired(ctx, fixedTime, 10)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRedisStoreBacksMiddleware(t *testing.T) {
	store, _ := newRedisStore(t)
	var calls int
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order_number":"ABC123"}`))
	}))

	first := serveOrder(handler, "idem-redis")
	second := serveOrder(handler, "idem-redis")

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(replayHeaderName))
}
