package observability

import (
	"net"
	"net/http"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hanko-field/ordercore/internal/platform/auth"
	"github.com/hanko-field/ordercore/internal/platform/httpx"
	"github.com/hanko-field/ordercore/internal/platform/requestctx"
)

// Caller kinds recorded on every request log line.
const (
	CallerGuest     = "guest"
	CallerCustomer  = "customer"
	CallerStaff     = "staff"
	CallerAnonymous = "anonymous"
)

// replayHeader is set by the idempotency guard when a stored checkout response is served again.
const replayHeader = "X-Idempotent-Replay"

// InjectLoggerMiddleware stores logger on the request context for handlers and services.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// RequestLoggerMiddleware writes one line when a request starts and one when it completes. The
// completion line carries what only routing reveals: the route pattern, the order or product the
// request touched, and whether an idempotent replay answered it.
func RequestLoggerMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := WithRequestFields(requestctx.Logger(ctx), requestFields(r)...)
			ctx = requestctx.WithLogger(ctx, logger)
			r = r.WithContext(ctx)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			logger.Info("request started")

			panicked := true
			defer func() {
				status := writtenStatus(ww)
				if panicked {
					status = http.StatusInternalServerError
				}
				route := SanitizeRoute(routePattern(r))
				annotateSpan(trace.SpanFromContext(ctx), route, status)

				fields := append(resourceFields(r, ww),
					zap.String("route", route),
					zap.Int("status", status),
					zap.Duration("latency", time.Since(start)),
					zap.Int("bytes", ww.BytesWritten()),
				)
				switch {
				case status >= http.StatusInternalServerError:
					logger.Error("request completed", fields...)
				case status >= http.StatusBadRequest:
					logger.Warn("request completed", fields...)
				default:
					logger.Info("request completed", fields...)
				}
			}()

			next.ServeHTTP(ww, r)
			panicked = false
		})
	}
}

func requestFields(r *http.Request) []zap.Field {
	ctx := r.Context()
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.String("method", SanitizeMethod(r.Method)),
		zap.String("path", sanitizeString(r.URL.Path, 180)),
		zap.String("caller", CallerKind(r)),
	}
	if actor := sanitizedActor(r); actor != "" {
		fields = append(fields, zap.String("actor", actor))
	}
	if info, ok := requestctx.Trace(ctx); ok {
		fields = append(fields, zap.String("trace_id", info.TraceID))
		if resource := info.Resource(); resource != "" {
			fields = append(fields, zap.String("logging.googleapis.com/trace", resource))
		}
	}
	if ip := remoteIP(r.RemoteAddr); ip != "" {
		fields = append(fields, zap.String("remote_ip", ip))
	}
	return fields
}

// resourceFields names the order or product a request addressed. A created order is read from the
// Location header because its id does not exist until the handler runs.
func resourceFields(r *http.Request, ww middleware.WrapResponseWriter) []zap.Field {
	var fields []zap.Field
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" && writtenStatus(ww) == http.StatusCreated {
		if location := ww.Header().Get("Location"); strings.Contains(location, "/orders/") {
			orderID = path.Base(location)
		}
	}
	if orderID != "" {
		fields = append(fields, zap.String("order_id", sanitizeString(orderID, 64)))
	}
	if productID := chi.URLParam(r, "productID"); productID != "" {
		fields = append(fields, zap.String("product_id", sanitizeString(productID, 64)))
	}
	if ww.Header().Get(replayHeader) == "true" {
		fields = append(fields, zap.Bool("idempotent_replay", true))
	}
	return fields
}

// CallerKind classifies the authenticated caller. Staff is decided by role, not by route.
func CallerKind(r *http.Request) string {
	ctx := r.Context()
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		if identity.HasAnyRole(auth.RoleStaff, auth.RoleAdmin) {
			return CallerStaff
		}
		return CallerCustomer
	}
	if _, ok := auth.GuestSessionFromContext(ctx); ok {
		return CallerGuest
	}
	return CallerAnonymous
}

func sanitizedActor(r *http.Request) string {
	if CallerKind(r) == CallerAnonymous {
		return ""
	}
	return SanitizeActor(auth.ActorID(r.Context()))
}

func annotateSpan(span trace.Span, route string, status int) {
	if span == nil || !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{semconv.HTTPResponseStatusCode(status)}
	if route != "" {
		attrs = append(attrs, semconv.HTTPRoute(route))
	}
	span.SetAttributes(attrs...)
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

// RecoveryMiddleware turns a panic into a JSON 500 and logs the stack.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				ctx := r.Context()
				logger := requestctx.Logger(ctx)
				if !requestctx.HasLogger(ctx) && fallback != nil {
					logger = fallback
				}
				logger.Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func remoteIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return sanitizeString(addr, 64)
}

func writtenStatus(ww middleware.WrapResponseWriter) int {
	if status := ww.Status(); status != 0 {
		return status
	}
	return http.StatusOK
}
