package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/auth"
	"github.com/hanko-field/ordercore/internal/services"
)

func sampleOrder(id string, customer services.CartIdentity, status services.OrderStatus) services.Order {
	usd := func(v string) domain.Money { return domain.MustParseMoney(v, "USD") }
	created := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	return services.Order{
		ID:             id,
		OrderNumber:    "AB12CD34",
		Customer:       customer,
		Status:         status,
		PaymentStatus:  domain.PaymentStatusPending,
		Currency:       "USD",
		Subtotal:       usd("20.00"),
		TaxAmount:      usd("2.00"),
		ShippingCost:   usd("5.00"),
		DiscountAmount: usd("0.00"),
		TotalAmount:    usd("27.00"),
		Lines: []services.OrderLine{{
			ProductID: "p1", ProductName: "Stamp", SKU: "SKU-1", Quantity: 2,
			Price: usd("10.00"), TotalPrice: usd("20.00"),
		}},
		Shipping: domain.ShippingInfo{RecipientName: "Ada", Line1: "1 Main St", City: "Tokyo", Country: "JP"},
		StatusHistory: []domain.StatusChange{{
			To: domain.OrderStatusPending, At: created, ActorID: customer.Key(), Reason: "order created",
		}},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func newOrderRouter(svc services.OrderService) chi.Router {
	router := chi.NewRouter()
	router.Route("/orders", NewOrderHandlers(nil, svc).Routes)
	return router
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFunc: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder("ord-1", cmd.Identity, domain.OrderStatusPending), nil
		},
	}

	body := `{"shipping":{"recipient_name":"Ada","line1":"1 Main St","city":"Tokyo","country":"JP"},"notes":"gift"}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "u1"}))
	rr := httptest.NewRecorder()

	newOrderRouter(service).ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "/v1/orders/ord-1", rr.Header().Get("Location"))
	assert.Equal(t, "user:u1", captured.Identity.Key())
	assert.Equal(t, "Ada", captured.Shipping.RecipientName)
	assert.Equal(t, "gift", captured.Notes)
	assert.Nil(t, captured.Charges)

	var resp struct {
		ID          string `json:"id"`
		OrderNumber string `json:"order_number"`
		Status      string `json:"status"`
		TotalAmount struct {
			Amount string `json:"amount"`
		} `json:"total_amount"`
		Items []struct {
			ProductID string `json:"product_id"`
		} `json:"items"`
		History []struct {
			To string `json:"to"`
		} `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ord-1", resp.ID)
	assert.Equal(t, "AB12CD34", resp.OrderNumber)
	assert.Equal(t, "PENDING", resp.Status)
	assert.Equal(t, "27.00", resp.TotalAmount.Amount)
	require.Len(t, resp.Items, 1)
	require.Len(t, resp.History, 1)
}

func TestOrderHandlersCreateOrderRejectsCustomerCharges(t *testing.T) {
	bodies := map[string]string{
		"discount":      `{"shipping":{"recipient_name":"Ada"},"discount":"100.00"}`,
		"tax":           `{"shipping":{"recipient_name":"Ada"},"tax":0}`,
		"shipping cost": `{"shipping":{"recipient_name":"Ada"},"shipping_cost":"0"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			called := false
			service := &stubOrderService{
				createFunc: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
					called = true
					return sampleOrder("ord-1", cmd.Identity, domain.OrderStatusPending), nil
				},
			}
			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
			req = req.WithContext(auth.WithGuestSession(req.Context(), "sess-1"))
			rr := httptest.NewRecorder()

			newOrderRouter(service).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.False(t, called)
		})
	}
}

func TestOrderHandlersCreateOrderUsesPolicyPricing(t *testing.T) {
	service := &stubOrderService{
		createFunc: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			assert.Nil(t, cmd.Charges)
			return sampleOrder("ord-1", cmd.Identity, domain.OrderStatusPending), nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"shipping":{"recipient_name":"Ada"}}`))
	req = req.WithContext(auth.WithGuestSession(req.Context(), "sess-1"))
	rr := httptest.NewRecorder()

	newOrderRouter(service).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestOrderHandlersCreateOrderErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		want string
	}{
		{name: "empty cart", err: services.ErrEmptyCart, code: http.StatusUnprocessableEntity, want: "empty_cart"},
		{name: "stock", err: &services.InsufficientStockError{Shortfalls: []domain.StockShortfall{{ProductID: "p1", Requested: 3, Available: 1}}}, code: http.StatusConflict, want: "insufficient_stock"},
		{name: "validation", err: &services.ValidationError{Field: "shipping.country", Message: "is required"}, code: http.StatusBadRequest, want: "invalid_request"},
		{name: "lock timeout", err: &services.ConcurrencyTimeoutError{Op: "order.create"}, code: http.StatusServiceUnavailable, want: "concurrency_timeout"},
		{name: "store down", err: fmt.Errorf("%w: postgres", services.ErrUnavailable), code: http.StatusServiceUnavailable, want: "unavailable"},
		{name: "unknown", err: errors.New("boom"), code: http.StatusInternalServerError, want: "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubOrderService{
				createFunc: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"shipping":{}}`))
			req = req.WithContext(auth.WithGuestSession(req.Context(), "sess-1"))
			rr := httptest.NewRecorder()

			newOrderRouter(service).ServeHTTP(rr, req)

			require.Equal(t, tc.code, rr.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tc.want, body["error"])
		})
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	var captured services.OrderListFilter
	service := &stubOrderService{
		listFunc: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder("ord-2", *filter.Customer, domain.OrderStatusShipped)},
				NextPageToken: "next-token",
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/orders?page_size=500&page_token=abc&status=shipped,delivered", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "u1"}))
	rr := httptest.NewRecorder()

	newOrderRouter(service).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NotNil(t, captured.Customer)
	assert.Equal(t, "user:u1", captured.Customer.Key())
	assert.Equal(t, maxOrderPageSize, captured.Pagination.PageSize)
	assert.Equal(t, "abc", captured.Pagination.PageToken)
	assert.Equal(t, []domain.OrderStatus{domain.OrderStatusShipped, domain.OrderStatusDelivered}, captured.Status)

	var body struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
		NextPageToken string `json:"next_page_token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "next-token", body.NextPageToken)
}

func TestOrderHandlersListOrdersRejectsBadQuery(t *testing.T) {
	service := &stubOrderService{}
	for _, query := range []string{"page_size=abc", "page_size=-1", "status=lost"} {
		req := httptest.NewRequest(http.MethodGet, "/orders?"+query, nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "u1"}))
		rr := httptest.NewRecorder()

		newOrderRouter(service).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code, query)
	}
}

func TestOrderHandlersGetOrderScopesViewer(t *testing.T) {
	service := &stubOrderService{
		getFunc: func(_ context.Context, orderID string, viewer *services.CartIdentity) (services.Order, error) {
			require.NotNil(t, viewer)
			if viewer.Key() != "guest:sess-1" {
				return services.Order{}, services.ErrNotFound
			}
			return sampleOrder(orderID, *viewer, domain.OrderStatusPending), nil
		},
	}
	router := newOrderRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord-1", nil)
	req = req.WithContext(auth.WithGuestSession(req.Context(), "sess-1"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/orders/ord-1", nil)
	req = req.WithContext(auth.WithGuestSession(req.Context(), "sess-other"))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOrderHandlersCancelOrder(t *testing.T) {
	var captured services.CancelCommand
	service := &stubOrderService{
		cancelFunc: func(_ context.Context, cmd services.CancelCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder(cmd.OrderID, *cmd.Customer, domain.OrderStatusCancelled)
			order.CancelReason = cmd.Reason
			return order, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/orders/ord-1:cancel", strings.NewReader(`{"reason":" changed my mind "}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "u1"}))
	rr := httptest.NewRecorder()

	newOrderRouter(service).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "ord-1", captured.OrderID)
	assert.Equal(t, "changed my mind", captured.Reason)
	assert.Equal(t, "user:u1", captured.ActorID)
	require.NotNil(t, captured.Customer)
	assert.Equal(t, "user:u1", captured.Customer.Key())
}

func TestOrderHandlersCancelShippedOrderConflicts(t *testing.T) {
	service := &stubOrderService{
		cancelFunc: func(context.Context, services.CancelCommand) (services.Order, error) {
			return services.Order{}, &services.IllegalTransitionError{From: domain.OrderStatusShipped, To: domain.OrderStatusCancelled}
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/orders/ord-1:cancel", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "u1"}))
	rr := httptest.NewRecorder()

	newOrderRouter(service).ServeHTTP(rr, req)

	require.Equal(t, http.StatusConflict, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "illegal_transition", body["error"])
	assert.Equal(t, "SHIPPED", body["from"])
	assert.Equal(t, "CANCELLED", body["to"])
}

func TestOrderHandlersRequireIdentity(t *testing.T) {
	rr := httptest.NewRecorder()
	newOrderRouter(&stubOrderService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

type stubOrderService struct {
	createFunc     func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFunc        func(context.Context, string, *services.CartIdentity) (services.Order, error)
	listFunc       func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	transitionFunc func(context.Context, services.TransitionCommand) (services.Order, error)
	cancelFunc     func(context.Context, services.CancelCommand) (services.Order, error)
	paymentFunc    func(context.Context, services.PaymentStatusCommand) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, viewer *services.CartIdentity) (services.Order, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, orderID, viewer)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, errors.New("not implemented")
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.TransitionCommand) (services.Order, error) {
	if s.transitionFunc != nil {
		return s.transitionFunc(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelCommand) (services.Order, error) {
	if s.cancelFunc != nil {
		return s.cancelFunc(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) UpdatePaymentStatus(ctx context.Context, cmd services.PaymentStatusCommand) (services.Order, error) {
	if s.paymentFunc != nil {
		return s.paymentFunc(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

var _ services.OrderService = (*stubOrderService)(nil)

func TestOrderHandlersCheckoutRateLimit(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	service := &stubOrderService{
		createFunc: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			return sampleOrder("ord-1", cmd.Identity, domain.OrderStatusPending), nil
		},
	}
	router := chi.NewRouter()
	router.Route("/orders", NewOrderHandlers(nil, service, WithCheckoutRateLimit(2, time.Minute, func() time.Time { return now })).Routes)

	checkout := func(session string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"shipping":{}}`))
		req = req.WithContext(auth.WithGuestSession(req.Context(), session))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusCreated, checkout("sess-1").Code)
	assert.Equal(t, http.StatusCreated, checkout("sess-1").Code)

	limited := checkout("sess-1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusCreated, checkout("sess-2").Code)

	now = now.Add(time.Minute)
	assert.Equal(t, http.StatusCreated, checkout("sess-1").Code)
}
