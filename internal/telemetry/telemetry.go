// Package telemetry wires OpenTelemetry tracing and the metric instruments
// the order engine records.
package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"restaurant-orders/internal/config"
)

const instrumentationName = "restaurant-orders"

// Provider bundles the tracer, the meter and the instruments built on it.
type Provider struct {
	Tracer  trace.Tracer
	Meter   metric.Meter
	Metrics *Metrics

	shutdown func(context.Context) error
}

// Metrics are the counters recorded across the services.
type Metrics struct {
	OrdersCreated     metric.Int64Counter
	StatusTransitions metric.Int64Counter
	EffectFailures    metric.Int64Counter
	DispatchFailures  metric.Int64Counter
	LowStockWarnings  metric.Int64Counter
}

// Init sets up the global tracer provider for the configured exporter.
// With exporter "none" spans are dropped.
func Init(ctx context.Context, cfg config.TelemetryConfig, mode string) (*Provider, error) {
	if cfg.Exporter == "" || cfg.Exporter == "none" {
		return Noop(), nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("service.mode", mode),
			attribute.String("host.name", hostname()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTEL resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithInsecure()}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown telemetry exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s exporter: %w", cfg.Exporter, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	meter := otel.GetMeterProvider().Meter(instrumentationName)
	metrics, err := newMetrics(meter)
	if err != nil {
		return nil, err
	}

	return &Provider{
		Tracer:   tp.Tracer(instrumentationName),
		Meter:    meter,
		Metrics:  metrics,
		shutdown: tp.Shutdown,
	}, nil
}

// Noop returns a provider that records nothing. Used when telemetry is
// disabled and in tests.
func Noop() *Provider {
	meter := otel.GetMeterProvider().Meter(instrumentationName)
	metrics, _ := newMetrics(meter)
	return &Provider{
		Tracer:   noop.NewTracerProvider().Tracer(instrumentationName),
		Meter:    meter,
		Metrics:  metrics,
		shutdown: func(context.Context) error { return nil },
	}
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.OrdersCreated, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders created")); err != nil {
		return nil, err
	}
	if m.StatusTransitions, err = meter.Int64Counter("orders.status_transitions",
		metric.WithDescription("Order status transitions applied")); err != nil {
		return nil, err
	}
	if m.EffectFailures, err = meter.Int64Counter("fulfillment.effect_failures",
		metric.WithDescription("Completion side effects that failed")); err != nil {
		return nil, err
	}
	if m.DispatchFailures, err = meter.Int64Counter("dispatch.failures",
		metric.WithDescription("Realtime or push deliveries that failed")); err != nil {
		return nil, err
	}
	if m.LowStockWarnings, err = meter.Int64Counter("inventory.low_stock_warnings",
		metric.WithDescription("Ingredients driven below zero")); err != nil {
		return nil, err
	}
	return &m, nil
}

func hostname() string {
	h, _ := os.Hostname()
	return h
}
