package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/auth"
	"github.com/hanko-field/ordercore/internal/platform/httpx"
	"github.com/hanko-field/ordercore/internal/services"
)

const (
	defaultOrderPageSize   = 20
	maxOrderPageSize       = 100
	maxOrderCreateBodySize = 16 * 1024
	maxOrderCancelBodySize = 4 * 1024
)

// createOrderRequest has no charge fields: customer checkouts are always priced by the policy, and
// the strict decoder rejects a body that tries to send tax, shipping_cost or discount.
type createOrderRequest struct {
	Shipping shippingPayload `json:"shipping"`
	Notes    string          `json:"notes"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

// OrderHandlers exposes checkout and the customer's own orders.
type OrderHandlers struct {
	authn           *auth.Authenticator
	orders          services.OrderService
	checkoutLimiter rateLimiter
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithCheckoutRateLimit caps order creation per caller within a rolling window.
func WithCheckoutRateLimit(limit int, window time.Duration, clock func() time.Time) OrderOption {
	return func(h *OrderHandlers) {
		h.checkoutLimiter = newWindowLimiter(limit, window, clock)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireCustomer())
	}
	r.Post("/", limitByActor(h.checkoutLimiter, h.createOrder))
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.customer(w, r)
	if !ok {
		return
	}

	var body createOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderCreateBodySize, &body); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		Identity: identity,
		Shipping: body.Shipping.toDomain(),
		Notes:    body.Notes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Location", "/v1/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, newOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.customer(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"))
	if err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	statuses, err := parseStatusFilter(query["status"])
	if err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		Customer: &identity,
		Status:   statuses,
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := orderListResponse{
		Items:         make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, newOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.customer(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeBadRequest(ctx, w, "order id is required")
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, &identity)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newOrderPayload(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.customer(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeBadRequest(ctx, w, "order id is required")
		return
	}

	var body cancelOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderCancelBodySize, &body); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelCommand{
		OrderID:  orderID,
		Reason:   strings.TrimSpace(body.Reason),
		ActorID:  auth.ActorID(ctx),
		Customer: &identity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newOrderPayload(order))
}

func (h *OrderHandlers) customer(w http.ResponseWriter, r *http.Request) (services.CartIdentity, bool) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return services.CartIdentity{}, false
	}
	identity, ok := auth.CartIdentity(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return services.CartIdentity{}, false
	}
	return identity, true
}

func parsePageSize(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultOrderPageSize, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("page_size must be an integer")
	}
	if size <= 0 {
		return 0, errors.New("page_size must be positive")
	}
	if size > maxOrderPageSize {
		size = maxOrderPageSize
	}
	return size, nil
}

func parseStatusFilter(values []string) ([]domain.OrderStatus, error) {
	var statuses []domain.OrderStatus
	seen := make(map[domain.OrderStatus]struct{})
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := domain.ParseOrderStatus(part)
			if !ok {
				return nil, errors.New("unknown order status " + strconv.Quote(part))
			}
			if _, dup := seen[status]; dup {
				continue
			}
			seen[status] = struct{}{}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}
