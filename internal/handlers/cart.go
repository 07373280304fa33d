package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/ordercore/internal/platform/auth"
	"github.com/hanko-field/ordercore/internal/platform/httpx"
	"github.com/hanko-field/ordercore/internal/services"
)

const maxCartRequestBodySize = 8 * 1024

type addCartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type mergeCartRequest struct {
	SessionKey string `json:"session_key"`
}

// CartHandlers exposes the cart endpoints for users and guest sessions.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes registers the /cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireCustomer())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Put("/items/{productID}", h.updateItem)
	r.Delete("/items/{productID}", h.removeItem)
}

// RegisterStandaloneRoutes registers cart actions that live beside the /cart group, such as
// /cart:merge.
func (h *CartHandlers) RegisterStandaloneRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.With(h.authn.RequireUser()).Post("/cart:merge", h.mergeCart)
		return
	}
	r.Post("/cart:merge", h.mergeCart)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(ctx, identity)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	totals, err := h.carts.Totals(ctx, identity)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, cartResponse{
		Cart: newCartPayload(cart),
		Totals: &cartTotalsPayload{
			Subtotal:  newMoneyPayload(totals.Subtotal),
			Tax:       newMoneyPayload(totals.Tax),
			Total:     newMoneyPayload(totals.Total),
			ItemCount: totals.ItemCount,
		},
	})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	var body addCartItemRequest
	if err := httpx.DecodeJSON(r, maxCartRequestBodySize, &body); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	productID := strings.TrimSpace(body.ProductID)
	if productID == "" {
		writeBadRequest(ctx, w, "product_id is required")
		return
	}
	if body.Quantity <= 0 {
		writeBadRequest(ctx, w, "quantity must be positive")
		return
	}

	cart, err := h.carts.AddItem(ctx, identity, productID, body.Quantity)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: newCartPayload(cart)})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		writeBadRequest(ctx, w, "product id is required")
		return
	}
	var body updateCartItemRequest
	if err := httpx.DecodeJSON(r, maxCartRequestBodySize, &body); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	if body.Quantity < 0 {
		writeBadRequest(ctx, w, "quantity must not be negative")
		return
	}

	cart, err := h.carts.UpdateItem(ctx, identity, productID, body.Quantity)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: newCartPayload(cart)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		writeBadRequest(ctx, w, "product id is required")
		return
	}

	cart, err := h.carts.RemoveItem(ctx, identity, productID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: newCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.Clear(ctx, identity)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: newCartPayload(cart)})
}

func (h *CartHandlers) mergeCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}
	user, ok := auth.IdentityFromContext(ctx)
	if !ok || user == nil || strings.TrimSpace(user.UID) == "" {
		writeUnauthenticated(ctx, w)
		return
	}

	var body mergeCartRequest
	if err := httpx.DecodeJSON(r, maxCartRequestBodySize, &body); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	sessionKey := strings.TrimSpace(body.SessionKey)
	if sessionKey == "" {
		sessionKey, _ = auth.GuestSessionFromContext(ctx)
	}
	if sessionKey == "" {
		writeBadRequest(ctx, w, "session_key is required")
		return
	}

	cart, err := h.carts.MergeGuestCart(ctx, sessionKey, user.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: newCartPayload(cart)})
}

func (h *CartHandlers) identity(w http.ResponseWriter, r *http.Request) (services.CartIdentity, bool) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return services.CartIdentity{}, false
	}
	identity, ok := auth.CartIdentity(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return services.CartIdentity{}, false
	}
	return identity, true
}
