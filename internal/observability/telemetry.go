package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds telemetry configuration
type Config struct {
	Enabled     bool
	Exporter    string  // otlp-http, noop
	Endpoint    string  // localhost:4318
	ServiceName string  // nhook
	SampleRate  float64 // 0.0 to 1.0
	Version     string
}

// Provider wraps the OpenTelemetry TracerProvider
type Provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

var globalProvider = &Provider{enabled: false}

// Init initializes the global telemetry provider
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		globalProvider = &Provider{enabled: false, tracer: noop.NewTracerProvider().Tracer("")}
		return nil
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp-http", "otlp":
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("create OTLP exporter: %w", err)
		}
		exporter = exp
	case "noop", "stdout":
		exporter = &noopExporter{}
	default:
		return fmt.Errorf("unknown exporter: %s", cfg.Exporter)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 && cfg.SampleRate >= 0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	globalProvider = &Provider{
		tp:      tp,
		tracer:  tp.Tracer(cfg.ServiceName),
		enabled: true,
	}

	return nil
}

// Shutdown gracefully shuts down the telemetry provider
func Shutdown(ctx context.Context) error {
	if globalProvider.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return globalProvider.tp.Shutdown(ctx)
}

// Tracer returns the global tracer. Before Init it returns the otel global
// tracer, which is a no-op unless something else installed a provider.
func Tracer() trace.Tracer {
	if globalProvider.tracer == nil {
		return otel.Tracer("nhook")
	}
	return globalProvider.tracer
}

// Enabled returns whether tracing is enabled
func Enabled() bool {
	return globalProvider.enabled
}

// noopExporter drops spans. Used when tracing is on without a collector.
type noopExporter struct{}

func (e *noopExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return nil
}

func (e *noopExporter) Shutdown(ctx context.Context) error {
	return nil
}
