package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"broadcast-dispatch/internal/common/logger"
)

func noopTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("noop")
}

// newTracer installs a jaeger-backed TracerProvider when endpoint is set.
func newTracer(serviceName, endpoint string, log logger.Logger) (trace.Tracer, func(context.Context) error) {
	if endpoint == "" {
		return noopTracer(), nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		log.Warn("jaeger exporter unavailable, tracing disabled", map[string]interface{}{
			"endpoint": endpoint,
			"error":    err,
		})
		return noopTracer(), nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)
	otel.SetTracerProvider(tp)

	return tp.Tracer(serviceName), tp.Shutdown
}

// StartSpan starts a span on tracer, tolerating a nil tracer.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = noopTracer()
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
