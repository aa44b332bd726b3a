package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Voxact tracer.
const tracerName = "github.com/MrWong99/voxact"

type sessionKey struct{}

// WithSessionID returns a context carrying the voice session ID. Spans started
// with [StartSpan] and loggers from [Logger] pick it up.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the voice session ID stored in ctx, or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// Tracer returns the Voxact tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The session ID in ctx, if any, is
// attached as the voxact.session_id attribute. The caller must end the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := SessionID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(attribute.String("voxact.session_id", id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the span in ctx as hex, or "" when
// there is none. It is echoed to HTTP clients as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger with session_id, trace_id and span_id
// added from ctx where present.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if id := SessionID(ctx); id != "" {
		attrs = append(attrs, slog.String("session_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
