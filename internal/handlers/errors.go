package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hanko-field/ordercore/internal/platform/httpx"
	"github.com/hanko-field/ordercore/internal/services"
)

// writeServiceError maps the service error taxonomy onto the HTTP error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var (
		validation *services.ValidationError
		shortage   *services.InsufficientStockError
		transition *services.IllegalTransitionError
	)

	switch {
	case errors.As(err, &validation):
		apiErr := httpx.NewError("invalid_request", validation.Error(), http.StatusBadRequest)
		if validation.Field != "" {
			apiErr = apiErr.WithDetails(map[string]any{"field": validation.Field})
		}
		httpx.WriteError(ctx, w, apiErr)
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.As(err, &shortage):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock for one or more products", http.StatusConflict).
			WithDetails(map[string]any{"shortfalls": shortfallPayloads(shortage.Shortfalls)}))
	case errors.As(err, &transition):
		details := map[string]any{
			"from": string(transition.From),
			"to":   string(transition.To),
		}
		httpx.WriteError(ctx, w, httpx.NewError("illegal_transition", transition.Error(), http.StatusConflict).WithDetails(details))
	case errors.Is(err, services.ErrEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "cart has no items", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrConcurrencyTimeout):
		httpx.WriteError(ctx, w, httpx.NewError("concurrency_timeout", "resource is busy, retry shortly", http.StatusServiceUnavailable).
			WithRetryAfter(time.Second))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "resource belongs to another customer", http.StatusForbidden))
	case errors.Is(err, services.ErrConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "resource was modified concurrently", http.StatusConflict))
	case errors.Is(err, services.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "storage temporarily unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("deadline_exceeded", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

func writeBadRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

func writeUnauthenticated(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
}
