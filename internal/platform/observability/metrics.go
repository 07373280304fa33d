package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/hanko-field/ordercore/internal/platform/observability"

// Metrics holds the OpenTelemetry instruments shared by the HTTP layer and the service logger hook.
// A nil *Metrics records nothing.
type Metrics struct {
	requests      metric.Int64Counter
	latency       metric.Float64Histogram
	serviceEvents metric.Int64Counter
}

// NewMetrics registers the instruments on meter, or on the global meter provider when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}

	requests, err := meter.Int64Counter("ordercore.http.requests",
		metric.WithDescription("Count of HTTP requests by route and status class"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("ordercore.http.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("HTTP request latency in milliseconds"))
	if err != nil {
		return nil, err
	}
	serviceEvents, err := meter.Int64Counter("ordercore.service.events",
		metric.WithDescription("Count of notable service events such as cache failures and low stock"))
	if err != nil {
		return nil, err
	}
	return &Metrics{requests: requests, latency: latency, serviceEvents: serviceEvents}, nil
}

// RecordRequest counts one completed request.
func (m *Metrics) RecordRequest(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("http.route", route),
		attribute.String("http.status_class", strconv.Itoa(status/100)+"xx"),
	)
	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}

// RecordServiceEvent counts one service hook event.
func (m *Metrics) RecordServiceEvent(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.serviceEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// MetricsMiddleware records request counts and latency per chi route pattern.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			m.RecordRequest(r.Context(), SanitizeMethod(r.Method), SanitizeRoute(routePattern(r)), writtenStatus(ww), time.Since(start))
		})
	}
}
