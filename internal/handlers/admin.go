package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/auth"
	"github.com/hanko-field/ordercore/internal/platform/httpx"
	"github.com/hanko-field/ordercore/internal/services"
)

const (
	maxAdminRequestBodySize = 8 * 1024
	maxImportBodySize       = 1024 * 1024
	maxImportRows           = 1000
)

// staffCheckoutRequest places an order from a customer's cart on their behalf, optionally replacing
// the policy's charges.
type staffCheckoutRequest struct {
	UserID       string          `json:"user_id"`
	SessionKey   string          `json:"session_key"`
	Shipping     shippingPayload `json:"shipping"`
	Notes        string          `json:"notes"`
	Tax          any             `json:"tax"`
	ShippingCost any             `json:"shipping_cost"`
	Discount     any             `json:"discount"`
}

func (req staffCheckoutRequest) identity() (domain.CartIdentity, bool) {
	user := strings.TrimSpace(req.UserID)
	session := strings.TrimSpace(req.SessionKey)
	switch {
	case user != "" && session == "":
		return domain.UserIdentity(user), true
	case session != "" && user == "":
		return domain.GuestIdentity(session), true
	default:
		return domain.CartIdentity{}, false
	}
}

func (req staffCheckoutRequest) charges() *services.ChargeOverrides {
	if req.Tax == nil && req.ShippingCost == nil && req.Discount == nil {
		return nil
	}
	return &services.ChargeOverrides{
		Tax:      req.Tax,
		Shipping: req.ShippingCost,
		Discount: req.Discount,
	}
}

type transitionOrderRequest struct {
	Status         string `json:"status"`
	Reason         string `json:"reason"`
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

type paymentStatusRequest struct {
	PaymentStatus string `json:"payment_status"`
}

type adjustStockRequest struct {
	Delta *int `json:"delta"`
}

type adjustStockResponse struct {
	ProductID     string `json:"product_id"`
	StockQuantity int    `json:"stock_quantity"`
}

type importProductRow struct {
	ID                string `json:"id"`
	SKU               string `json:"sku"`
	Name              string `json:"name"`
	Price             any    `json:"price"`
	Currency          string `json:"currency"`
	StockQuantity     int    `json:"stock_quantity"`
	TrackInventory    *bool  `json:"track_inventory"`
	AllowBackorders   bool   `json:"allow_backorders"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

func (row importProductRow) toImport() services.ProductImport {
	track := true
	if row.TrackInventory != nil {
		track = *row.TrackInventory
	}
	return services.ProductImport{
		ID:                row.ID,
		SKU:               row.SKU,
		Name:              row.Name,
		Price:             row.Price,
		Currency:          row.Currency,
		StockQuantity:     row.StockQuantity,
		TrackInventory:    track,
		AllowBackorders:   row.AllowBackorders,
		LowStockThreshold: row.LowStockThreshold,
	}
}

type importIssuePayload struct {
	Index     int    `json:"index"`
	ProductID string `json:"product_id,omitempty"`
	Message   string `json:"message"`
}

type importReportResponse struct {
	Imported int                  `json:"imported"`
	Degraded int                  `json:"degraded"`
	Rejected int                  `json:"rejected"`
	Issues   []importIssuePayload `json:"issues"`
}

// AdminHandlers exposes staff operations on orders and inventory.
type AdminHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	inventory services.InventoryService
	roles     []string
}

// NewAdminHandlers constructs admin handlers. Callers must hold one of roles; staff and admin are
// accepted when none are given.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, inventory services.InventoryService, roles ...string) *AdminHandlers {
	if len(roles) == 0 {
		roles = []string{auth.RoleStaff, auth.RoleAdmin}
	}
	return &AdminHandlers{
		authn:     authn,
		orders:    orders,
		inventory: inventory,
		roles:     roles,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser(h.roles...))
	}
	r.Get("/orders", h.listOrders)
	r.Post("/orders:checkout", h.checkoutForCustomer)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}:transition", h.transitionOrder)
	r.Post("/orders/{orderID}:payment", h.updatePaymentStatus)
	r.Get("/inventory/{productID}", h.getProduct)
	r.Post("/inventory/{productID}:adjust", h.adjustStock)
	r.Post("/products:import", h.importProducts)
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
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
		Status: statuses,
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

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeBadRequest(ctx, w, "order id is required")
		return
	}
	order, err := h.orders.GetOrder(ctx, orderID, nil)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newOrderPayload(order))
}

func (h *AdminHandlers) checkoutForCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}

	var body staffCheckoutRequest
	if err := httpx.DecodeJSON(r, maxAdminRequestBodySize, &body); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	identity, ok := body.identity()
	if !ok {
		writeBadRequest(ctx, w, "exactly one of user_id or session_key is required")
		return
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		Identity: identity,
		Shipping: body.Shipping.toDomain(),
		Notes:    body.Notes,
		Charges:  body.charges(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Location", "/v1/admin/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, newOrderPayload(order))
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeBadRequest(ctx, w, "order id is required")
		return
	}

	var body transitionOrderRequest
	if err := httpx.DecodeJSON(r, maxAdminRequestBodySize, &body); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	target, ok := domain.ParseOrderStatus(body.Status)
	if !ok {
		writeBadRequest(ctx, w, "status must be a known order status")
		return
	}

	cmd := services.TransitionCommand{
		OrderID: orderID,
		To:      target,
		ActorID: auth.ActorID(ctx),
		Reason:  strings.TrimSpace(body.Reason),
	}
	carrier := strings.TrimSpace(body.Carrier)
	tracking := strings.TrimSpace(body.TrackingNumber)
	if carrier != "" || tracking != "" {
		cmd.Tracking = &services.TrackingInfo{Carrier: carrier, TrackingNumber: tracking}
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newOrderPayload(order))
}

func (h *AdminHandlers) updatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeBadRequest(ctx, w, "order id is required")
		return
	}

	var body paymentStatusRequest
	if err := httpx.DecodeJSON(r, maxAdminRequestBodySize, &body); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	status, ok := domain.ParsePaymentStatus(body.PaymentStatus)
	if !ok {
		writeBadRequest(ctx, w, "payment_status must be a known payment status")
		return
	}

	order, err := h.orders.UpdatePaymentStatus(ctx, services.PaymentStatusCommand{
		OrderID: orderID,
		Status:  status,
		ActorID: auth.ActorID(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newOrderPayload(order))
}

func (h *AdminHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		writeBadRequest(ctx, w, "product id is required")
		return
	}
	product, err := h.inventory.GetProduct(ctx, productID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newProductPayload(product))
}

func (h *AdminHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		writeBadRequest(ctx, w, "product id is required")
		return
	}

	var body adjustStockRequest
	if err := httpx.DecodeJSON(r, maxAdminRequestBodySize, &body); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	if body.Delta == nil {
		writeBadRequest(ctx, w, "delta is required")
		return
	}

	stock, err := h.inventory.Adjust(ctx, productID, *body.Delta)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, adjustStockResponse{ProductID: productID, StockQuantity: stock})
}

func (h *AdminHandlers) importProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}

	var rows []importProductRow
	if err := httpx.DecodeJSON(r, maxImportBodySize, &rows); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	if len(rows) == 0 {
		writeBadRequest(ctx, w, "at least one product is required")
		return
	}
	if len(rows) > maxImportRows {
		writeBadRequest(ctx, w, "too many products in one import")
		return
	}

	items := make([]services.ProductImport, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toImport())
	}
	report, err := h.inventory.ImportProducts(ctx, items)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := importReportResponse{
		Imported: report.Imported,
		Degraded: report.Degraded,
		Rejected: report.Rejected,
		Issues:   make([]importIssuePayload, 0, len(report.Issues)),
	}
	for _, issue := range report.Issues {
		resp.Issues = append(resp.Issues, importIssuePayload{Index: issue.Index, ProductID: issue.ProductID, Message: issue.Message})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
