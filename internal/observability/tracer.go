package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultSampleRatio traces one poll cycle in ten
const DefaultSampleRatio = 0.1

// TracerConfig describes the exporter and the ingest task the spans belong to
type TracerConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string // OTLP endpoint, protocol default when empty
	Protocol       string // "grpc" or "http"
	Enabled        bool
	SampleRatio    float64 // share of poll cycles traced, DefaultSampleRatio when 0

	TaskID    string
	WatchMode string
	WatchPath string
}

// InitTracer installs the global tracer provider. Disabled tracing installs
// a no-op provider so span helpers stay cheap.
func InitTracer(ctx context.Context, cfg TracerConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(ctx context.Context) error { return nil }, nil
	}

	client, err := exporterClient(cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(
		ctx,
		resource.WithAttributes(taskAttributes(cfg)...),
		resource.WithFromEnv(), // OTEL_RESOURCE_ATTRIBUTES
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

func exporterClient(cfg TracerConfig) (otlptrace.Client, error) {
	switch cfg.Protocol {
	case "grpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		return otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		), nil
	case "http":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		return otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		), nil
	}
	return nil, fmt.Errorf("unsupported protocol: %s (use 'grpc' or 'http')", cfg.Protocol)
}

// taskAttributes tag every span with the task and the path it watches
func taskAttributes(cfg TracerConfig) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	}
	if cfg.TaskID != "" {
		attrs = append(attrs, semconv.ServiceInstanceIDKey.String(cfg.TaskID))
	}
	if cfg.WatchMode != "" {
		attrs = append(attrs, attribute.String("ingest.watch.mode", cfg.WatchMode))
	}
	if cfg.WatchPath != "" {
		attrs = append(attrs, attribute.String("ingest.watch.path", cfg.WatchPath))
	}
	return attrs
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		ratio = DefaultSampleRatio
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
