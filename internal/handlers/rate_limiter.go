package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hanko-field/ordercore/internal/platform/auth"
	"github.com/hanko-field/ordercore/internal/platform/httpx"
)

type rateLimiter interface {
	Allow(key string) (bool, time.Duration)
}

// windowLimiter counts requests per caller in fixed windows.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	counts map[string]windowCount
}

type windowCount struct {
	count int
	reset time.Time
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		counts: make(map[string]windowCount),
	}
}

// Allow reports whether key may proceed and, when it may not, how long until its window resets.
func (l *windowLimiter) Allow(key string) (bool, time.Duration) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.counts[key]
	if !ok || !now.Before(entry.reset) {
		l.counts[key] = windowCount{count: 1, reset: now.Add(l.window)}
		l.pruneLocked(now)
		return true, 0
	}
	if entry.count >= l.limit {
		return false, entry.reset.Sub(now)
	}
	entry.count++
	l.counts[key] = entry
	return true, 0
}

func (l *windowLimiter) pruneLocked(now time.Time) {
	for key, entry := range l.counts {
		if !now.Before(entry.reset) {
			delete(l.counts, key)
		}
	}
}

// limitByActor wraps a handler so that each actor is held to the limiter's budget.
func limitByActor(limiter rateLimiter, next http.HandlerFunc) http.HandlerFunc {
	if limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ok, wait := limiter.Allow(auth.ActorID(r.Context()))
		if !ok {
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests, slow down", http.StatusTooManyRequests).
				WithRetryAfter(wait))
			return
		}
		next(w, r)
	}
}
