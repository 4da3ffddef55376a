package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-orders/internal/config"
)

func TestInit(t *testing.T) {
	ctx := context.Background()

	p, err := Init(ctx, config.TelemetryConfig{Exporter: "none"}, "order-service")
	require.NoError(t, err)
	require.NotNil(t, p.Metrics)
	_, span := p.Tracer.Start(ctx, "noop")
	span.End()
	assert.NoError(t, p.Shutdown(ctx))

	p, err = Init(ctx, config.TelemetryConfig{Exporter: "stdout", ServiceName: "test"}, "order-service")
	require.NoError(t, err)
	p.Metrics.OrdersCreated.Add(ctx, 1)
	assert.NoError(t, p.Shutdown(ctx))

	_, err = Init(ctx, config.TelemetryConfig{Exporter: "zipkin"}, "order-service")
	assert.Error(t, err)
}
