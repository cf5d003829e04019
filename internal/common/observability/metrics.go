package observability

import (
	"context"
	"time"

	"loan-pipeline/internal/common/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Observability bundles the otel meter and tracer used by the processor.
type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          otelmetric.Meter
	tracer         trace.Tracer
	msgCounter     otelmetric.Int64Counter
	msgDuration    otelmetric.Float64Histogram
}

// New installs global tracer and meter providers. Without the prometheus
// exporter the tracer still works and metric recording is a no-op.
func New(serviceName string, log logger.Logger) *Observability {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)

	o := &Observability{
		tracerProvider: tp,
		tracer:         tp.Tracer(serviceName),
	}

	exporter, err := prometheus.New()
	if err != nil {
		log.Warn("otel prometheus exporter unavailable, otel metrics disabled", map[string]interface{}{"error": err.Error()})
		return o
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	msgCounter, _ := meter.Int64Counter(
		"loan.messages.processed",
		otelmetric.WithDescription("Number of queue messages resolved"),
	)

	msgDuration, _ := meter.Float64Histogram(
		"loan.messages.duration",
		otelmetric.WithDescription("Message processing duration"),
		otelmetric.WithUnit("ms"),
	)

	o.meterProvider = provider
	o.meter = meter
	o.msgCounter = msgCounter
	o.msgDuration = msgDuration
	return o
}

// NewNoop returns an Observability whose instruments discard everything.
func NewNoop() *Observability {
	return &Observability{}
}

// StartSpan starts a span for one unit of work. The returned end function
// records err, if any, and closes the span.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	if o == nil || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

func (o *Observability) RecordMessageProcessed(ctx context.Context, outcome string) {
	if o != nil && o.msgCounter != nil {
		o.msgCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("outcome", outcome),
		))
	}
}

func (o *Observability) RecordMessageDuration(ctx context.Context, duration time.Duration, outcome string) {
	if o != nil && o.msgDuration != nil {
		o.msgDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("outcome", outcome),
		))
	}
}

func (o *Observability) Shutdown() {
	if o == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
	if o.tracerProvider != nil {
		_ = o.tracerProvider.Shutdown(ctx)
	}
}
