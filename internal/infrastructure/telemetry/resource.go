// Package telemetry wires OpenTelemetry traces, metrics and logs for the
// sync service.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// newResource describes this service to the collector
func newResource(serviceName string) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// shutdown flushes one SDK provider within shutdownTimeout
func shutdown(ctx context.Context, logger *zap.Logger, what string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		logger.Error("Error shutting down "+what, zap.Error(err))
		return fmt.Errorf("failed to shutdown %s: %w", what, err)
	}
	logger.Info("OpenTelemetry " + what + " shut down")
	return nil
}
