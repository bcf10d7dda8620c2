package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Options describes the agent for exported telemetry
type Options struct {
	Enabled        bool
	Endpoint       string
	Version        string
	Environment    string
	SampleRatio    float64
	ExportInterval time.Duration

	// Identity of the tracked user, attached to every span and metric
	Username  string
	SessionID string
	Remote    string
}

// Telemetry owns the installed providers. The zero value is a disabled instance.
type Telemetry struct {
	shutdown []func(context.Context) error
}

// Initialize installs OTLP trace and metric providers. When telemetry is disabled
// the global no-op providers stay in place and instruments record nothing.
// A failing exporter is logged and skipped; the agent runs without it.
func Initialize(ctx context.Context, opts Options) (*Telemetry, error) {
	t := &Telemetry{}
	if !opts.Enabled {
		Info("Telemetry disabled (set OTEL_ENABLED=true to export traces and metrics)")
		return t, nil
	}

	res, err := agentResource(ctx, opts)
	if err != nil {
		return nil, err
	}

	if tp, err := tracerProvider(ctx, opts, res); err != nil {
		Warnf("Trace export unavailable: %v", err)
	} else {
		otel.SetTracerProvider(tp)
		t.shutdown = append(t.shutdown, tp.Shutdown)
	}

	if mp, err := meterProvider(ctx, opts, res); err != nil {
		Warnf("Metric export unavailable: %v", err)
	} else {
		otel.SetMeterProvider(mp)
		t.shutdown = append(t.shutdown, mp.Shutdown)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	Infof("Exporting telemetry to %s (sample ratio %.2f)", opts.Endpoint, opts.SampleRatio)
	return t, nil
}

// agentResource identifies this agent. The schema URL is left empty so it merges
// with the SDK default resource regardless of its semconv version.
func agentResource(ctx context.Context, opts Options) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName("location-tracker-agent"),
		semconv.ServiceVersion(opts.Version),
		semconv.DeploymentEnvironment(opts.Environment),
		attribute.String("tracker.remote", opts.Remote),
	}
	if opts.Username != "" {
		attrs = append(attrs, attribute.String("tracker.username", opts.Username))
	}
	if opts.SessionID != "" {
		attrs = append(attrs, attribute.String("tracker.session_id", opts.SessionID))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...), resource.WithHost())
}

func tracerProvider(ctx context.Context, opts Options, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(opts.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	// Sync sessions are the root spans worth keeping; children follow the parent decision
	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	), nil
}

func meterProvider(ctx context.Context, opts Options, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(opts.Endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	interval := opts.ExportInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	), nil
}

// Shutdown flushes and stops every installed provider
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	for _, fn := range t.shutdown {
		errs = append(errs, fn(ctx))
	}
	t.shutdown = nil
	return errors.Join(errs...)
}
