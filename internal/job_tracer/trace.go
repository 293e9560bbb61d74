package job_tracer

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "trainpool"

// InitTracer installs OTLP/HTTP trace and metric exporters pointing at
// collector. The returned func flushes and shuts both providers down.
func InitTracer(ctx context.Context, serviceName, collector string) (func(), error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(collector),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	mexporter, err := otlpmetrichttp.New(
		ctx,
		otlpmetrichttp.WithInsecure(),
		otlpmetrichttp.WithEndpoint(collector),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create otel resource: %w", err)
	}

	meterProvider := metric.NewMeterProvider(metric.WithReader(metric.NewPeriodicReader(mexporter)), metric.WithResource(res))
	otel.SetMeterProvider(meterProvider)

	batchOptions := []sdktrace.BatchSpanProcessorOption{
		sdktrace.WithBatchTimeout(500 * time.Millisecond),
		sdktrace.WithExportTimeout(2 * time.Second),
		sdktrace.WithMaxQueueSize(2048),
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, batchOptions...),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(sctx)
		_ = meterProvider.Shutdown(sctx)
	}, nil
}

func GetTracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func GetMeter() otelmetric.Meter {
	return otel.Meter(instrumentationName)
}

// RecordTraining records the duration and outcome of one sandboxed
// training attempt.
func RecordTraining(ctx context.Context, strategy, outcome string, d time.Duration) {
	h, err := GetMeter().Float64Histogram("trainpool.training.duration",
		otelmetric.WithUnit("s"),
		otelmetric.WithDescription("Duration of sandboxed training attempts"),
	)
	if err != nil {
		return
	}
	h.Record(ctx, d.Seconds(), otelmetric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("outcome", outcome),
	))
}

// RecordRequest counts protocol requests by opcode and response status.
func RecordRequest(ctx context.Context, op, status string) {
	c, err := GetMeter().Int64Counter("trainpool.server.requests",
		otelmetric.WithDescription("Training server requests by opcode and status"),
	)
	if err != nil {
		return
	}
	c.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	))
}
