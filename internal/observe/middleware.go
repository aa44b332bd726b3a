package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests that no mux pattern handled, keeping
// arbitrary paths out of metric attributes.
const unmatchedRoute = "unmatched"

// quietRoutes are polled by probes and scrapers and logged at debug level.
var quietRoutes = map[string]bool{
	"GET /healthz": true,
	"GET /readyz":  true,
	"GET /metrics": true,
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware traces and measures every request passing through next.
//
// Incoming W3C trace context is continued. The response carries the trace ID
// as X-Correlation-ID. When next is an [http.ServeMux], spans and the
// voxact.http.request.duration histogram are labelled with the matched route
// pattern, e.g. "GET /journal".
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			// ServeMux records the matched pattern on the request it is given.
			req := r.WithContext(ctx)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, req)

			route := req.Pattern
			if route == "" {
				route = unmatchedRoute
			} else {
				span.SetAttributes(semconv.HTTPRoute(route))
			}
			span.SetName("HTTP " + route)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))

			elapsed := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", route),
				attribute.Int("status", rec.status),
			))

			level := slog.LevelInfo
			if quietRoutes[route] {
				level = slog.LevelDebug
			}
			slog.LogAttrs(ctx, level, "http request",
				slog.String("route", route),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("elapsed", elapsed),
				slog.String("trace_id", cid),
			)
		})
	}
}
