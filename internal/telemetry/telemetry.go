// Package telemetry provides OpenTelemetry tracing and RED metrics for
// gateway operations. Spans and metrics are exported to a writer (stderr by
// default) when enabled; otherwise every call is a no-op.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Sentinel-Gate/infragate"

// Config configures the providers.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// SampleRate is between 0 and 1; 1 samples everything.
	SampleRate float64
	// MetricInterval is the export period for metrics.
	MetricInterval time.Duration
	// Writer receives exported spans and metrics (default os.Stderr).
	Writer io.Writer
}

// Provider manages the trace and metric providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	logger         *slog.Logger

	operations metric.Int64Counter
	errors     metric.Int64Counter
	duration   metric.Float64Histogram
	active     metric.Int64UpDownCounter
}

// Disabled returns a Provider whose operations are no-ops.
func Disabled() *Provider {
	return &Provider{
		tracer: otel.Tracer(instrumentationName),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// New creates a Provider. When cfg.Enabled is false it returns Disabled().
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if !cfg.Enabled {
		return Disabled(), nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "infragate"
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}
	if cfg.MetricInterval <= 0 {
		cfg.MetricInterval = time.Minute
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(cfg.Writer))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.Writer))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(cfg.MetricInterval),
		)),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p := &Provider{
		tracerProvider: tp,
		meterProvider:  mp,
		tracer:         tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
		logger:         logger,
	}
	if err := p.initMetrics(mp.Meter(instrumentationName)); err != nil {
		_ = p.Shutdown(ctx)
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	logger.Info("telemetry enabled", "service", cfg.ServiceName, "sample_rate", cfg.SampleRate)
	return p, nil
}

func (p *Provider) initMetrics(meter metric.Meter) error {
	var err error
	if p.operations, err = meter.Int64Counter("infragate.operations",
		metric.WithDescription("Gateway operations started"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return err
	}
	if p.errors, err = meter.Int64Counter("infragate.operation.errors",
		metric.WithDescription("Gateway operations that returned an error"),
		metric.WithUnit("{error}"),
	); err != nil {
		return err
	}
	if p.duration, err = meter.Float64Histogram("infragate.operation.duration",
		metric.WithDescription("Gateway operation duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return err
	}
	p.active, err = meter.Int64UpDownCounter("infragate.operations.active",
		metric.WithDescription("Gateway operations in flight"),
		metric.WithUnit("{operation}"),
	)
	return err
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// TrackOperation starts a span and records RED metrics for an operation.
// The returned function must be called once with the operation's error.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	opAttrs := metric.WithAttributes(append([]attribute.KeyValue{attribute.String("operation", name)}, attrs...)...)
	if p.operations != nil {
		p.operations.Add(ctx, 1, opAttrs)
		p.active.Add(ctx, 1, opAttrs)
	}

	return ctx, func(err error) {
		if p.operations != nil {
			p.active.Add(ctx, -1, opAttrs)
			p.duration.Record(ctx, time.Since(start).Seconds(), opAttrs)
			if err != nil {
				p.errors.Add(ctx, 1, opAttrs)
			}
		}
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.Error("failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.Error("failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}
