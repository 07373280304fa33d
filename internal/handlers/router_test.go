package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/auth"
	"github.com/hanko-field/ordercore/internal/services"
)

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	code, _ := body["error"].(string)
	return code
}

func TestNewRouter_HealthEndpoints(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	health := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{
			report: services.HealthReport{
				Status:      domain.HealthStatusOK,
				Uptime:      5 * time.Second,
				GeneratedAt: now,
				Checks:      map[string]domain.HealthCheck{"store": {Status: domain.HealthStatusOK}},
			},
		}),
		WithHealthClock(func() time.Time { return now }),
	)
	router := NewRouter(WithHealthHandlers(health))

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"), path)
	}
}

func TestNewRouter_UnconfiguredGroupsAreUnavailable(t *testing.T) {
	router := NewRouter()

	for _, path := range []string{"/v1/cart", "/v1/orders", "/v1/orders/ord-1", "/v1/admin/orders"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, path)
		assert.Equal(t, "unavailable", errorCode(t, rr), path)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/cart:merge", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestNewRouter_MountsCartAndMergeRoutes(t *testing.T) {
	carts := &stubCartService{
		getFunc: func(_ context.Context, identity services.CartIdentity) (services.Cart, error) {
			return services.Cart{Identity: identity, Currency: "USD"}, nil
		},
		mergeFunc: func(_ context.Context, session, user string) (services.Cart, error) {
			return services.Cart{Identity: domain.UserIdentity(user), Currency: "USD"}, nil
		},
	}
	router := NewRouter(WithCartHandlers(NewCartHandlers(nil, carts)))

	req := httptest.NewRequest(http.MethodGet, "/v1/cart", nil)
	req = req.WithContext(auth.WithGuestSession(req.Context(), "sess-1"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Header().Get("Cache-Control"), "no-cache")

	req = httptest.NewRequest(http.MethodPost, "/v1/cart:merge", strings.NewReader(`{"session_key":"sess-1"}`))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "u1"}))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.NotEqual(t, http.StatusNotFound, rr.Code)
	assert.NotEqual(t, http.StatusServiceUnavailable, rr.Code)
}

func TestNewRouter_RejectsNonJSONBodies(t *testing.T) {
	called := false
	orders := &stubOrderService{
		createFunc: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			called = true
			return sampleOrder("ord-1", cmd.Identity, domain.OrderStatusPending), nil
		},
	}
	router := NewRouter(WithOrderHandlers(NewOrderHandlers(nil, orders)))

	req := httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader("shipping=ada"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req = req.WithContext(auth.WithGuestSession(req.Context(), "sess-1"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
	assert.False(t, called)
}

func TestNewRouter_NotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	NewRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/does/not/exist", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "route_not_found", errorCode(t, rr))
}

func TestNewRouter_AdminMiddlewareWrapsStaffRoutes(t *testing.T) {
	audit := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Audit", "staff")
			next.ServeHTTP(w, r)
		})
	}
	orders := &stubOrderService{
		getFunc: func(_ context.Context, orderID string, _ *services.CartIdentity) (services.Order, error) {
			return sampleOrder(orderID, domain.UserIdentity("u1"), domain.OrderStatusPending), nil
		},
	}
	router := NewRouter(WithAdminHandlers(NewAdminHandlers(nil, orders, nil)), WithAdminMiddlewares(audit))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodGet, "/v1/admin/orders/ord-1", ""))
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "staff", rr.Header().Get("X-Audit"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodGet, "/v1/orders", ""))
	assert.Empty(t, rr.Header().Get("X-Audit"))
}
