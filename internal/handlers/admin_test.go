package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/auth"
	"github.com/hanko-field/ordercore/internal/services"
)

func newAdminRouter(authn *auth.Authenticator, orders services.OrderService, inventory services.InventoryService) chi.Router {
	router := chi.NewRouter()
	router.Route("/admin", NewAdminHandlers(authn, orders, inventory).Routes)
	return router
}

func staffRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleStaff}}))
}

func TestAdminHandlersTransitionOrder(t *testing.T) {
	var captured services.TransitionCommand
	orders := &stubOrderService{
		transitionFunc: func(_ context.Context, cmd services.TransitionCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder(cmd.OrderID, domain.UserIdentity("u1"), cmd.To)
			order.Carrier = cmd.Tracking.Carrier
			order.TrackingNumber = cmd.Tracking.TrackingNumber
			return order, nil
		},
	}

	req := staffRequest(http.MethodPost, "/admin/orders/ord-1:transition", `{"status":"shipped","reason":"left warehouse","carrier":"yamato","tracking_number":"TRK-9"}`)
	rr := httptest.NewRecorder()

	newAdminRouter(nil, orders, nil).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "ord-1", captured.OrderID)
	assert.Equal(t, domain.OrderStatusShipped, captured.To)
	assert.Equal(t, "user:staff-1", captured.ActorID)
	assert.Equal(t, "left warehouse", captured.Reason)
	require.NotNil(t, captured.Tracking)
	assert.Equal(t, "TRK-9", captured.Tracking.TrackingNumber)

	var body struct {
		Status         string `json:"status"`
		TrackingNumber string `json:"tracking_number"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "SHIPPED", body.Status)
	assert.Equal(t, "TRK-9", body.TrackingNumber)
}

func TestAdminHandlersTransitionRejectsUnknownStatus(t *testing.T) {
	orders := &stubOrderService{
		transitionFunc: func(context.Context, services.TransitionCommand) (services.Order, error) {
			t.Fatal("service must not be called")
			return services.Order{}, nil
		},
	}
	rr := httptest.NewRecorder()
	newAdminRouter(nil, orders, nil).ServeHTTP(rr, staffRequest(http.MethodPost, "/admin/orders/ord-1:transition", `{"status":"LOST"}`))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminHandlersTransitionWithoutTracking(t *testing.T) {
	orders := &stubOrderService{
		transitionFunc: func(_ context.Context, cmd services.TransitionCommand) (services.Order, error) {
			assert.Nil(t, cmd.Tracking)
			return services.Order{}, &services.IllegalTransitionError{From: domain.OrderStatusPending, To: domain.OrderStatusDelivered}
		},
	}
	rr := httptest.NewRecorder()
	newAdminRouter(nil, orders, nil).ServeHTTP(rr, staffRequest(http.MethodPost, "/admin/orders/ord-1:transition", `{"status":"DELIVERED"}`))

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestAdminHandlersUpdatePaymentStatus(t *testing.T) {
	var captured services.PaymentStatusCommand
	orders := &stubOrderService{
		paymentFunc: func(_ context.Context, cmd services.PaymentStatusCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder(cmd.OrderID, domain.UserIdentity("u1"), domain.OrderStatusConfirmed)
			order.PaymentStatus = cmd.Status
			return order, nil
		},
	}
	router := newAdminRouter(nil, orders, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodPost, "/admin/orders/ord-1:payment", `{"payment_status":"paid"}`))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, domain.PaymentStatusPaid, captured.Status)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodPost, "/admin/orders/ord-1:payment", `{"payment_status":"maybe"}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminHandlersCheckoutForCustomerForwardsCharges(t *testing.T) {
	var captured services.CreateOrderCommand
	orders := &stubOrderService{
		createFunc: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder("ord-7", cmd.Identity, domain.OrderStatusPending), nil
		},
	}
	body := `{"session_key":"sess-9","shipping":{"recipient_name":"Ada","country":"JP"},"shipping_cost":"0","discount":"5.00"}`
	rr := httptest.NewRecorder()
	newAdminRouter(nil, orders, nil).ServeHTTP(rr, staffRequest(http.MethodPost, "/admin/orders:checkout", body))

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "/v1/admin/orders/ord-7", rr.Header().Get("Location"))
	assert.Equal(t, "guest:sess-9", captured.Identity.Key())
	require.NotNil(t, captured.Charges)
	assert.Nil(t, captured.Charges.Tax)
	assert.Equal(t, "0", captured.Charges.Shipping)
	assert.Equal(t, "5.00", captured.Charges.Discount)
}

func TestAdminHandlersCheckoutForCustomerNeedsOneIdentity(t *testing.T) {
	orders := &stubOrderService{
		createFunc: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			t.Fatal("order must not be created")
			return services.Order{}, nil
		},
	}
	router := newAdminRouter(nil, orders, nil)
	for _, body := range []string{`{}`, `{"user_id":"u1","session_key":"sess-1"}`} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, staffRequest(http.MethodPost, "/admin/orders:checkout", body))
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
}

func TestAdminHandlersCheckoutForCustomerRequiresStaff(t *testing.T) {
	router := newAdminRouter(auth.NewAuthenticator(nil), &stubOrderService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/orders:checkout", strings.NewReader(`{"session_key":"sess-1","discount":"100.00"}`))
	req = req.WithContext(auth.WithGuestSession(req.Context(), "sess-1"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminHandlersGetOrderHasNoViewer(t *testing.T) {
	orders := &stubOrderService{
		getFunc: func(_ context.Context, orderID string, viewer *services.CartIdentity) (services.Order, error) {
			assert.Nil(t, viewer)
			return sampleOrder(orderID, domain.GuestIdentity("sess-1"), domain.OrderStatusPending), nil
		},
	}
	rr := httptest.NewRecorder()
	newAdminRouter(nil, orders, nil).ServeHTTP(rr, staffRequest(http.MethodGet, "/admin/orders/ord-1", ""))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAdminHandlersGetProduct(t *testing.T) {
	inventory := &stubInventoryService{
		getFunc: func(_ context.Context, productID string) (services.Product, error) {
			if productID != "p1" {
				return services.Product{}, services.ErrNotFound
			}
			return services.Product{
				ID:                "p1",
				SKU:               "SKU-1",
				Name:              "Stamp",
				Price:             domain.MustParseMoney("12.50", "USD"),
				StockQuantity:     2,
				TrackInventory:    true,
				LowStockThreshold: 3,
			}, nil
		},
	}
	router := newAdminRouter(nil, nil, inventory)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodGet, "/admin/inventory/p1", ""))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		StockQuantity int  `json:"stock_quantity"`
		LowStock      bool `json:"low_stock"`
		Price         struct {
			Amount string `json:"amount"`
		} `json:"price"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 2, body.StockQuantity)
	assert.True(t, body.LowStock)
	assert.Equal(t, "12.50", body.Price.Amount)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodGet, "/admin/inventory/missing", ""))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminHandlersAdjustStock(t *testing.T) {
	inventory := &stubInventoryService{
		adjustFunc: func(_ context.Context, productID string, delta int) (int, error) {
			if delta < -10 {
				return 0, &services.ValidationError{Field: "delta", Message: "stock cannot go negative"}
			}
			return 10 + delta, nil
		},
	}
	router := newAdminRouter(nil, nil, inventory)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodPost, "/admin/inventory/p1:adjust", `{"delta":-4}`))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body adjustStockResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, adjustStockResponse{ProductID: "p1", StockQuantity: 6}, body)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodPost, "/admin/inventory/p1:adjust", `{"delta":-20}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodPost, "/admin/inventory/p1:adjust", `{}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminHandlersImportProducts(t *testing.T) {
	var captured []services.ProductImport
	inventory := &stubInventoryService{
		importFunc: func(_ context.Context, items []services.ProductImport) (services.ImportReport, error) {
			captured = items
			return services.ImportReport{
				Imported: 1,
				Degraded: 1,
				Rejected: 1,
				Issues: []services.ImportIssue{
					{Index: 1, ProductID: "p2", Message: "price could not be parsed; stored as zero"},
					{Index: 2, Message: "id is required"},
				},
			}, nil
		},
	}

	payload := `[
		{"id":"p1","sku":"SKU-1","name":"Stamp","price":"12.50","currency":"USD","stock_quantity":5},
		{"id":"p2","sku":"SKU-2","name":"Ink","price":"abc","currency":"USD","track_inventory":false},
		{"sku":"SKU-3","name":"Pad","price":3}
	]`
	rr := httptest.NewRecorder()
	newAdminRouter(nil, nil, inventory).ServeHTTP(rr, staffRequest(http.MethodPost, "/admin/products:import", payload))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Len(t, captured, 3)
	assert.True(t, captured[0].TrackInventory)
	assert.False(t, captured[1].TrackInventory)
	assert.Equal(t, json.Number("3"), captured[2].Price)

	var body importReportResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Imported)
	assert.Equal(t, 1, body.Rejected)
	require.Len(t, body.Issues, 2)
	assert.Equal(t, "p2", body.Issues[0].ProductID)
}

func TestAdminHandlersImportRejectsEmptyList(t *testing.T) {
	rr := httptest.NewRecorder()
	newAdminRouter(nil, nil, &stubInventoryService{}).ServeHTTP(rr, staffRequest(http.MethodPost, "/admin/products:import", `[]`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminHandlersRequireStaffRole(t *testing.T) {
	authn := auth.NewAuthenticator(nil)
	router := newAdminRouter(authn, &stubOrderService{}, &stubInventoryService{})

	req := httptest.NewRequest(http.MethodGet, "/admin/inventory/p1", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "u1", Roles: []string{auth.RoleUser}}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/inventory/p1", nil)
	req = req.WithContext(auth.WithGuestSession(req.Context(), "sess-1"))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

type stubInventoryService struct {
	getFunc    func(context.Context, string) (services.Product, error)
	adjustFunc func(context.Context, string, int) (int, error)
	importFunc func(context.Context, []services.ProductImport) (services.ImportReport, error)
}

func (s *stubInventoryService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, productID)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubInventoryService) Check(context.Context, []services.StockRequest) ([]services.StockShortfall, error) {
	return nil, errors.New("not implemented")
}

func (s *stubInventoryService) Reserve(context.Context, string, int) (services.Reservation, error) {
	return services.Reservation{}, errors.New("not implemented")
}

func (s *stubInventoryService) ReserveAll(context.Context, []services.StockRequest) ([]services.Reservation, error) {
	return nil, errors.New("not implemented")
}

func (s *stubInventoryService) Release(context.Context, string, int) error {
	return errors.New("not implemented")
}

func (s *stubInventoryService) ReleaseAll(context.Context, []services.StockRequest) error {
	return errors.New("not implemented")
}

func (s *stubInventoryService) Adjust(ctx context.Context, productID string, delta int) (int, error) {
	if s.adjustFunc != nil {
		return s.adjustFunc(ctx, productID, delta)
	}
	return 0, errors.New("not implemented")
}

func (s *stubInventoryService) PublishLowStock(context.Context, []services.Reservation) {}

func (s *stubInventoryService) ImportProducts(ctx context.Context, items []services.ProductImport) (services.ImportReport, error) {
	if s.importFunc != nil {
		return s.importFunc(ctx, items)
	}
	return services.ImportReport{}, errors.New("not implemented")
}

var _ services.InventoryService = (*stubInventoryService)(nil)
