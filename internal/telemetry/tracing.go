package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/goxel/goxeld/internal/worker"
)

// TracingShutdown wraps the TracerProvider and MeterProvider so the
// supervisor can flush and close both as the very last step of teardown,
// after every dispatch that might still be emitting a span or recording a
// metric has already finished.
type TracingShutdown struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Shutdown flushes and stops the tracer and meter providers.
func (t *TracingShutdown) Shutdown(ctx context.Context) {
	_ = t.tp.Shutdown(ctx)
	_ = t.mp.Shutdown(ctx)
}

// NewTracerProvider builds stdout-exporting Tracer and Meter providers and
// installs them globally. There is no collector in this daemon's
// deployment model, so stdout is the same "local-first, no external
// dependency" choice the rest of the ambient stack makes for logging and
// audit. The OTel metrics path runs alongside, not instead of, the
// Prometheus registry in Metrics: Prometheus serves pull-based scraping at
// /metrics, while this periodic stdout export gives an operator a push-based
// trail when running with --dev and no scraper attached.
func NewTracerProvider(ctx context.Context, instanceID string) (trace.Tracer, otelmetric.Meter, *TracingShutdown, error) {
	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("telemetry: build stdout trace exporter: %w", err)
	}

	res, err := resource.NewWithAttributes("",
		attribute.String("service.name", "goxeld"),
		attribute.String("service.instance.id", instanceID),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("telemetry: build stdout metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(time.Minute))),
	)
	otel.SetMeterProvider(mp)

	return otel.Tracer("goxeld"), mp.Meter("goxeld"), &TracingShutdown{tp: tp, mp: mp}, nil
}

// Observer combines Metrics with per-dispatch OTel spans and a mirrored
// OTel counter/histogram. Spans are created after the fact with explicit
// start/end timestamps, so wiring tracing in costs the worker pool
// nothing: its dispatch path already measures the duration Observer needs.
type Observer struct {
	metrics *Metrics
	tracer  trace.Tracer

	dispatchCount   otelmetric.Int64Counter
	dispatchLatency otelmetric.Float64Histogram
}

// NewObserver builds a combined Prometheus+OTel Observer.
func NewObserver(metrics *Metrics, tracer trace.Tracer, meter otelmetric.Meter) *Observer {
	o := &Observer{metrics: metrics, tracer: tracer}
	o.dispatchCount, _ = meter.Int64Counter("goxeld.dispatch.count",
		otelmetric.WithDescription("Number of RPC method dispatches."))
	o.dispatchLatency, _ = meter.Float64Histogram("goxeld.dispatch.duration",
		otelmetric.WithDescription("RPC dispatch latency in seconds."),
		otelmetric.WithUnit("s"))
	return o
}

var _ worker.Observer = (*Observer)(nil)

// ObserveDispatch implements worker.Observer.
func (o *Observer) ObserveDispatch(method, concurrency, outcome string, d time.Duration) {
	o.metrics.ObserveDispatch(method, concurrency, outcome, d)

	end := time.Now()
	start := end.Add(-d)
	_, span := o.tracer.Start(context.Background(), "rpc."+method, trace.WithTimestamp(start))
	span.SetAttributes(
		attribute.String("rpc.concurrency", concurrency),
		attribute.String("rpc.outcome", outcome),
	)
	span.End(trace.WithTimestamp(end))

	attrs := otelmetric.WithAttributes(
		attribute.String("method", method),
		attribute.String("concurrency", concurrency),
		attribute.String("outcome", outcome),
	)
	if o.dispatchCount != nil {
		o.dispatchCount.Add(context.Background(), 1, attrs)
	}
	if o.dispatchLatency != nil {
		o.dispatchLatency.Record(context.Background(), d.Seconds(), attrs)
	}
}

// SetQueueDepth implements worker.Observer.
func (o *Observer) SetQueueDepth(depth int) {
	o.metrics.SetQueueDepth(depth)
}
