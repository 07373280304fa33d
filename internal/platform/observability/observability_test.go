package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/ordercore/internal/platform/auth"
	"github.com/hanko-field/ordercore/internal/platform/requestctx"
)

func TestServiceLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.DebugLevel)
	reqCore, reqLogs := observer.New(zapcore.DebugLevel)

	metrics, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	hook := ServiceLogger(zap.New(baseCore), metrics)

	hook(context.Background(), "inventory.low_stock", map[string]any{"product_id": "p1", "stock": 2})
	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore).With(zap.String("request_id", "r1")))
	hook(ctx, "cart.cache.put.failed", map[string]any{"error": "boom"})

	if baseLogs.Len() != 1 || reqLogs.Len() != 1 {
		t.Fatalf("expected one entry per logger, got base=%d request=%d", baseLogs.Len(), reqLogs.Len())
	}
	entry := baseLogs.All()[0]
	if entry.Level != zapcore.InfoLevel || entry.ContextMap()["event"] != "inventory.low_stock" {
		t.Fatalf("unexpected base entry %+v", entry)
	}
	failure := reqLogs.All()[0]
	if failure.Level != zapcore.WarnLevel {
		t.Fatalf("expected failure events at warn, got %s", failure.Level)
	}
	if failure.ContextMap()["request_id"] != "r1" {
		t.Fatalf("expected request fields to be preserved, got %v", failure.ContextMap())
	}
}

func TestServiceLoggerToleratesNilMetrics(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ServiceLogger(zap.New(core), nil)(context.Background(), "order.created", nil)
	if logs.Len() != 1 {
		t.Fatalf("expected entry, got %d", logs.Len())
	}
}

func TestTraceMiddlewareHonoursCloudTraceHeader(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("proj")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/cart", nil)
	req.Header.Set(cloudTraceHeader, "4bf92f3577b34da6a3ce929d0e0e4736/1;o=1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if info.ProjectID != "proj" {
		t.Fatalf("expected project id on trace info, got %q", info.ProjectID)
	}
	if info.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected upstream trace id, got %q", info.TraceID)
	}
	if got := rr.Header().Get(cloudTraceHeader); got != "4bf92f3577b34da6a3ce929d0e0e4736/1;o=1" {
		t.Fatalf("expected decimal span id echoed, got %q", got)
	}
}

func TestParseSpanIDFormats(t *testing.T) {
	if id, ok := parseSpanID("12345"); !ok || id.String() != "0000000000003039" {
		t.Fatalf("decimal span id not parsed: %v %v", id, ok)
	}
	if id, ok := parseSpanID("00f067aa0ba902b7"); !ok || id.String() != "00f067aa0ba902b7" {
		t.Fatalf("hex span id not parsed: %v %v", id, ok)
	}
	for _, bad := range []string{"", "0", "zz"} {
		if _, ok := parseSpanID(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestTraceMiddlewareHonoursTraceparent(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("proj")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/cart", nil)
	req.Header.Set("traceparent", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if info.TraceID != "0af7651916cd43dd8448eb211c80319c" {
		t.Fatalf("expected traceparent trace id, got %q", info.TraceID)
	}
}

func TestMetricsMiddlewarePassesThrough(t *testing.T) {
	metrics, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status to pass through, got %d", rr.Code)
	}
}

func TestSanitizeActorRedactsGuestSessions(t *testing.T) {
	cases := map[string]string{
		"user:u-123":                  "user:u-123",
		"guest:0123456789abcdef":      "guest:012345***",
		"guest:abc":                   "guest:***",
		"anonymous":                   "anonymous",
		"user:evil\nINFO forged line": "user:evilINFO forged line",
	}
	for in, want := range cases {
		if got := SanitizeActor(in); got != want {
			t.Fatalf("SanitizeActor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTraceResourceRequiresProjectAndTrace(t *testing.T) {
	if got := (requestctx.TraceInfo{TraceID: "abc"}).Resource(); got != "" {
		t.Fatalf("expected empty resource without project, got %q", got)
	}
	got := (requestctx.TraceInfo{TraceID: "abc", ProjectID: "proj"}).Resource()
	if got != "projects/proj/traces/abc" {
		t.Fatalf("unexpected resource %q", got)
	}
}

func completionEntry(t *testing.T, logs *observer.ObservedLogs) observer.LoggedEntry {
	t.Helper()
	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	return entries[0]
}

func TestRequestLoggerRecordsGuestOrderRoute(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := chi.NewRouter()
	router.Use(RequestLoggerMiddleware("proj"))
	router.Get("/v1/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/orders/ord-9", nil)
	ctx := requestctx.WithLogger(req.Context(), zap.New(core))
	req = req.WithContext(auth.WithGuestSession(ctx, "sess-0123456789"))
	router.ServeHTTP(httptest.NewRecorder(), req)

	fields := completionEntry(t, logs).ContextMap()
	if fields["caller"] != CallerGuest || fields["actor"] != "guest:sess-0***" {
		t.Fatalf("unexpected caller fields %v", fields)
	}
	if fields["order_id"] != "ord-9" || fields["route"] != "/v1/orders/{orderID}" {
		t.Fatalf("expected order route fields, got %v", fields)
	}
	if _, ok := fields["idempotent_replay"]; ok {
		t.Fatalf("fresh request must not be marked as replay")
	}
}

func TestRequestLoggerReadsCreatedOrderAndReplay(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := chi.NewRouter()
	router.Use(RequestLoggerMiddleware(""))
	router.Post("/v1/admin/orders:checkout", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/v1/admin/orders/ord-42")
		w.Header().Set("X-Idempotent-Replay", "true")
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/orders:checkout", nil)
	ctx := requestctx.WithLogger(req.Context(), zap.New(core))
	req = req.WithContext(auth.WithIdentity(ctx, &auth.Identity{UID: "s1", Roles: []string{auth.RoleStaff}}))
	router.ServeHTTP(httptest.NewRecorder(), req)

	fields := completionEntry(t, logs).ContextMap()
	if fields["caller"] != CallerStaff || fields["order_id"] != "ord-42" || fields["idempotent_replay"] != true {
		t.Fatalf("unexpected completion fields %v", fields)
	}
}

func TestRequestLoggerReportsPanicsAsServerErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := RecoveryMiddleware(nil)(RequestLoggerMiddleware("")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/orders", nil)
	req = req.WithContext(requestctx.WithLogger(req.Context(), zap.New(core)))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	entry := completionEntry(t, logs)
	if entry.Level != zapcore.ErrorLevel || entry.ContextMap()["status"] != int64(http.StatusInternalServerError) {
		t.Fatalf("unexpected completion entry %+v", entry)
	}
	if entry.ContextMap()["caller"] != CallerAnonymous || entry.ContextMap()["route"] != "unmatched" {
		t.Fatalf("unexpected anonymous fields %v", entry.ContextMap())
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected the panic to be logged")
	}
}
