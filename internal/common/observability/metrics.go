package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"

	"broadcast-dispatch/internal/common/logger"
)

// Observability bundles the otel meter and tracer used by the dispatch engine.
type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerShutdown func(context.Context) error
	tracer         trace.Tracer
	jobCounter     otelmetric.Int64Counter
	jobDuration    otelmetric.Float64Histogram
}

// Options configures New.
type Options struct {
	ServiceName    string
	JaegerEndpoint string
	Logger         logger.Logger
}

func New(opts Options) *Observability {
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	o := &Observability{}

	exporter, err := prometheus.New()
	if err != nil {
		log.Warn("prometheus exporter unavailable, otel meters disabled", map[string]interface{}{"error": err})
	} else {
		o.meterProvider = metric.NewMeterProvider(metric.WithReader(exporter))
		otel.SetMeterProvider(o.meterProvider)

		meter := o.meterProvider.Meter(opts.ServiceName)
		o.jobCounter, _ = meter.Int64Counter(
			"jobs.processed",
			otelmetric.WithDescription("Number of dispatch jobs processed"),
		)
		o.jobDuration, _ = meter.Float64Histogram(
			"jobs.duration",
			otelmetric.WithDescription("Dispatch job processing duration"),
			otelmetric.WithUnit("ms"),
		)
	}

	o.tracer, o.tracerShutdown = newTracer(opts.ServiceName, opts.JaegerEndpoint, log)
	return o
}

func (o *Observability) RecordJobProcessed(ctx context.Context, outcome string) {
	if o == nil || o.jobCounter == nil {
		return
	}
	o.jobCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func (o *Observability) RecordJobDuration(ctx context.Context, duration time.Duration, outcome string) {
	if o == nil || o.jobDuration == nil {
		return
	}
	o.jobDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// Tracer returns the configured tracer; it is a no-op tracer when tracing is off.
func (o *Observability) Tracer() trace.Tracer {
	if o == nil || o.tracer == nil {
		return noopTracer()
	}
	return o.tracer
}

func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil {
		return
	}
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
	if o.tracerShutdown != nil {
		_ = o.tracerShutdown(ctx)
	}
}
