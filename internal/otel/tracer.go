package otel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dagucloud/forge/internal/common/config"
)

const (
	// TracerName is the name of the tracer
	TracerName = "github.com/dagucloud/forge"
)

var errMissingEndpoint = errors.New("OTel endpoint is required")

// Tracer wraps an OpenTelemetry tracer with the build configuration
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	config   config.Tracing
}

// NewTracer creates a tracer exporting to the configured OTLP endpoint.
// When tracing is disabled the global no-op tracer is used.
func NewTracer(ctx context.Context, cfg config.Tracing) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: otel.Tracer(TracerName), config: cfg}, nil
	}

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTel exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(createResource(cfg)),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{
		tracer:   provider.Tracer(TracerName),
		provider: provider,
		config:   cfg,
	}, nil
}

// NewTracerWithProvider wraps an existing provider. Tests pass an SDK
// provider with an in-memory exporter.
func NewTracerWithProvider(provider *sdktrace.TracerProvider) *Tracer {
	return &Tracer{
		tracer:   provider.Tracer(TracerName),
		provider: provider,
		config:   config.Tracing{Enabled: true},
	}
}

// createExporter creates an OTLP exporter based on the endpoint
func createExporter(ctx context.Context, cfg config.Tracing) (sdktrace.SpanExporter, error) {
	if cfg.Endpoint == "" {
		return nil, errMissingEndpoint
	}
	if isHTTPEndpoint(cfg.Endpoint) {
		return createHTTPExporter(ctx, cfg)
	}
	return createGRPCExporter(ctx, cfg)
}

func isHTTPEndpoint(endpoint string) bool {
	return strings.HasSuffix(endpoint, "/v1/traces")
}

// createHTTPExporter creates an OTLP HTTP exporter
func createHTTPExporter(ctx context.Context, cfg config.Tracing) (sdktrace.SpanExporter, error) {
	endpoint := cfg.Endpoint
	opts := []otlptracehttp.Option{
		otlptracehttp.WithHeaders(cfg.Headers),
	}
	if strings.Contains(endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	} else {
		host, path, _ := strings.Cut(endpoint, "/")
		opts = append(opts, otlptracehttp.WithEndpoint(host), otlptracehttp.WithURLPath("/"+path))
	}

	if cfg.Timeout > 0 {
		opts = append(opts, otlptracehttp.WithTimeout(cfg.Timeout))
	}

	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	} else {
		opts = append(opts, otlptracehttp.WithTLSClientConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		}))
	}

	return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
}

// createGRPCExporter creates an OTLP gRPC exporter
func createGRPCExporter(ctx context.Context, cfg config.Tracing) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithHeaders(cfg.Headers),
	}

	if cfg.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.Timeout))
	}

	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	} else {
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		}))))
	}

	return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
}

func createResource(cfg config.Tracing) *resource.Resource {
	name := cfg.ServiceName
	if name == "" {
		name = "forge"
	}
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(name),
		attribute.String("forge.exporter", exporterKind(cfg.Endpoint)),
	)
}

func exporterKind(endpoint string) string {
	if isHTTPEndpoint(endpoint) {
		return "http"
	}
	return "grpc"
}

// Start starts a new span
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t.tracer == nil {
		// Return a no-op span if tracer is not initialized
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, spanName, opts...)
}

// Shutdown flushes and shuts down the tracer provider
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// IsEnabled returns true if OTel is enabled
func (t *Tracer) IsEnabled() bool {
	return t.config.Enabled
}
