package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// keepSpans retains spans across Shutdown, which InMemoryExporter clears.
type keepSpans struct{ *tracetest.InMemoryExporter }

func (keepSpans) Shutdown(context.Context) error { return nil }

func TestInitProvider_InstallsGlobals(t *testing.T) {
	origTP, origMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})

	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{ServiceVersion: "test", TraceExporter: keepSpans{exp}})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	ctx, span := StartSpan(WithSessionID(context.Background(), "s-9"), "session.execute")
	if CorrelationID(ctx) == "" {
		t.Error("span from global provider has no trace ID")
	}
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported spans = %d, want 1 after shutdown flush", len(spans))
	}
	if got := spans[0].Resource.Attributes(); len(got) == 0 {
		t.Error("exported span has an empty resource")
	}
}
