// Package observability wires OpenTelemetry tracing and metrics for the shipsanity services.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Service names reported by the binaries.
const (
	ServiceController = "shipsanity-controller"
	ServiceWorker     = "shipsanity-worker"
)

const serviceNamespace = "shipsanity"

// newResource describes the running service. Traces and metrics share it so
// both can be joined on service.name.
func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("service name is required")
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceNamespace(serviceNamespace),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
