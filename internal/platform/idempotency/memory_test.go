package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func serveOrder(handler http.Handler, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader(`{"notes":"gift"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if _, err := store.Reserve(ctx, key, "fp", fixedTime, time.Minute); err != nil {
			t.Fatalf("reserve %s: %v", key, err)
		}
	}
	if _, err := store.Reserve(ctx, "fresh", "fp", fixedTime.Add(time.Hour), time.Hour); err != nil {
		t.Fatalf("reserve fresh: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(2*time.Minute), 2)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed under limit, got %d", removed)
	}
	removed, err = store.CleanupExpired(ctx, fixedTime.Add(2*time.Minute), 0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected remaining expired record removed, got %d", removed)
	}

	res, err := store.Reserve(ctx, "fresh", "fp", fixedTime.Add(time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("reserve fresh again: %v", err)
	}
	if res.State != ReservationStatePending {
		t.Fatalf("unexpired record must survive cleanup")
	}
}

func TestMemoryStoreReleaseKeepsForeignReservation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "k", "fp-1", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Release(ctx, "k", "fp-2"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := store.Reserve(ctx, "k", "fp-2", fixedTime, time.Hour); err != ErrFingerprintMismatch {
		t.Fatalf("expected reservation to survive foreign release, got %v", err)
	}
}
