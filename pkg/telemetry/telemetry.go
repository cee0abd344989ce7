// Package telemetry provides optional OpenTelemetry tracing. When no OTLP
// endpoint is configured a no-op implementation is returned, so callers
// never need to nil-check.
package telemetry

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"

	"shrinkfuzz/config"
)

type Telemetry interface {
	Tracer() trace.Tracer
}

type telemetryImpl struct {
	tracer trace.Tracer
}

type noopTelemetry struct{}

func (noopTelemetry) Tracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("shrinkfuzz")
}

// Noop returns a Telemetry that records nothing.
func Noop() Telemetry {
	return noopTelemetry{}
}

type Params struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.AppConfig
}

func NewTelemetry(p Params) (Telemetry, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return noopTelemetry{}, nil
	}

	telemetryCtx, cancel := context.WithCancel(context.Background())

	exporter, err := otlptracegrpc.New(telemetryCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			attribute.String("service.name", p.Config.ServiceName),
		)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			cancel()
			return provider.Shutdown(ctx)
		},
	})

	return &telemetryImpl{tracer: provider.Tracer(p.Config.ServiceName)}, nil
}

func (t *telemetryImpl) Tracer() trace.Tracer {
	return t.tracer
}
