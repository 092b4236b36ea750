package observability

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInitTracer_ServiceNames(t *testing.T) {
	// The OTLP gRPC exporter dials lazily, so an idle collector address is fine.
	for _, name := range []string{ServiceController, ServiceWorker} {
		t.Run(name, func(t *testing.T) {
			shutdown, err := InitTracer(context.Background(), name, "localhost:4317")
			if err != nil {
				t.Fatalf("InitTracer failed: %v", err)
			}
			if shutdown == nil {
				t.Fatal("expected shutdown function to be non-nil")
			}

			ctx, span := otel.Tracer("shipsanity/runner").Start(context.Background(), "run_scenario")
			if !span.SpanContext().IsValid() {
				t.Error("expected a recording span from the installed provider")
			}
			span.End()

			carrier := propagation.MapCarrier{}
			otel.GetTextMapPropagator().Inject(ctx, carrier)
			if carrier.Get("traceparent") == "" {
				t.Error("expected traceparent to be propagated")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		})
	}
}

func TestInitTracer_NoCollector(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), ServiceWorker, "")
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("expected no-op shutdown, got %v", err)
	}
}

func TestInitTracer_RequiresServiceName(t *testing.T) {
	if _, err := InitTracer(context.Background(), "", "localhost:4317"); err == nil {
		t.Error("expected error for empty service name")
	}
}
