// Package observability provides OpenTelemetry-based tracing and metrics
// for the kernel: signal throughput, containment and halt counters, and
// spans around the legality → routing → audit pipeline.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "covenant.kernel"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g. "localhost:4317" for gRPC
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // span batch flush interval
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults with telemetry off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "covenant-kernel",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
	}
}

// Provider manages the trace and metric providers plus kernel counters.
// A disabled provider is safe to use everywhere; every method no-ops.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	signalsProcessed  metric.Int64Counter
	signalsTerminated metric.Int64Counter
	signalsRouted     metric.Int64Counter
	escalations       metric.Int64Counter
	halts             metric.Int64Counter
	pipelineDuration  metric.Float64Histogram
}

// New creates an observability provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("covenant.component", "kernel"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initKernelMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init kernel metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initKernelMetrics() error {
	var err error

	p.signalsProcessed, err = p.meter.Int64Counter("covenant.signals.processed",
		metric.WithDescription("Signals submitted to the process pipeline"),
		metric.WithUnit("{signal}"),
	)
	if err != nil {
		return err
	}
	p.signalsTerminated, err = p.meter.Int64Counter("covenant.signals.terminated",
		metric.WithDescription("Signals terminated by the legality gate"),
		metric.WithUnit("{signal}"),
	)
	if err != nil {
		return err
	}
	p.signalsRouted, err = p.meter.Int64Counter("covenant.signals.routed",
		metric.WithDescription("Signals routed to an authority handler"),
		metric.WithUnit("{signal}"),
	)
	if err != nil {
		return err
	}
	p.escalations, err = p.meter.Int64Counter("covenant.escalations.total",
		metric.WithDescription("Signals escalated up the authority ladder"),
		metric.WithUnit("{signal}"),
	)
	if err != nil {
		return err
	}
	p.halts, err = p.meter.Int64Counter("covenant.halts.total",
		metric.WithDescription("System halts triggered"),
		metric.WithUnit("{halt}"),
	)
	if err != nil {
		return err
	}
	p.pipelineDuration, err = p.meter.Float64Histogram("covenant.pipeline.duration",
		metric.WithDescription("End-to-end signal pipeline duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// SignalProcessed counts one signal entering the pipeline.
func (p *Provider) SignalProcessed(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.signalsProcessed != nil {
		p.signalsProcessed.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// SignalTerminated counts a legality termination.
func (p *Provider) SignalTerminated(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.signalsTerminated != nil {
		p.signalsTerminated.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// SignalRouted counts a successful routing decision.
func (p *Provider) SignalRouted(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.signalsRouted != nil {
		p.signalsRouted.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// Escalation counts one escalation up the ladder.
func (p *Provider) Escalation(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.escalations != nil {
		p.escalations.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// Halt counts a triggered system halt.
func (p *Provider) Halt(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.halts != nil {
		p.halts.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// TrackPipeline wraps one pipeline run in a span and duration metric.
// The returned func must be called when the run completes.
func (p *Provider) TrackPipeline(ctx context.Context, signalType string) (context.Context, func(error)) {
	start := time.Now()
	attrs := []attribute.KeyValue{attribute.String("signal.type", signalType)}

	ctx, span := p.StartSpan(ctx, "kernel.process",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	p.SignalProcessed(ctx, attrs...)

	return ctx, func(err error) {
		if p.pipelineDuration != nil {
			p.pipelineDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attrs...))
		}
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
