// Package tracing exports one client span per benchmark request and optionally
// propagates W3C trace context to the target.
//
// Every span carries the run it belongs to on its resource, so traces of two
// benchmark runs against the same server can be told apart in the backend.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/torosent/strawberry/internal/config"
)

const (
	tracerName     = "github.com/torosent/strawberry/internal/requester"
	defaultService = "strawberry"
)

// Resource attribute keys describing the run.
const (
	AttrRun      = attribute.Key("strawberry.run")
	AttrTarget   = attribute.Key("strawberry.target")
	AttrProtocol = attribute.Key("strawberry.protocol")
	AttrModel    = attribute.Key("gen_ai.request.model")
)

// Setup describes the run whose requests are traced.
type Setup struct {
	Config   config.TracingConfig
	Run      string
	Target   string
	Protocol string
	Model    string
	Version  string

	// Exporter replaces the OTLP exporter and exports spans synchronously.
	// Tracing is then on regardless of the configured endpoint.
	Exporter sdktrace.SpanExporter
}

// Provider hands out the request tracer of one run.
type Provider struct {
	tp        *sdktrace.TracerProvider
	tracer    trace.Tracer
	propagate bool
}

// Init installs a tracer provider for the run. Without an endpoint (flag or
// OTEL_EXPORTER_OTLP_ENDPOINT) it returns a provider of no-op spans.
func Init(ctx context.Context, setup Setup) (*Provider, error) {
	cfg := setup.Config
	if setup.Exporter == nil && !cfg.Enabled() {
		return &Provider{}, nil
	}

	sampler, err := samplerFor(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	res, err := runResource(ctx, setup)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	var export sdktrace.TracerProviderOption
	if setup.Exporter != nil {
		export = sdktrace.WithSyncer(setup.Exporter)
	} else {
		exporter, err := newExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("tracing exporter: %w", err)
		}
		export = sdktrace.WithBatcher(exporter)
	}

	tp := sdktrace.NewTracerProvider(
		export,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:        tp,
		tracer:    tp.Tracer(tracerName),
		propagate: cfg.ShouldPropagate(),
	}, nil
}

// runResource names the service and tags it with the run label, the target and
// the model under test.
func runResource(ctx context.Context, setup Setup) (*resource.Resource, error) {
	service := setup.Config.ServiceName
	if service == "" {
		service = os.Getenv("OTEL_SERVICE_NAME")
	}
	if service == "" {
		service = defaultService
	}
	version := setup.Version
	if version == "" {
		version = "dev"
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(service),
		semconv.ServiceVersion(version),
	}
	if setup.Run != "" {
		attrs = append(attrs, AttrRun.String(setup.Run))
	}
	if setup.Target != "" {
		attrs = append(attrs, AttrTarget.String(setup.Target))
	}
	if setup.Protocol != "" {
		attrs = append(attrs, AttrProtocol.String(setup.Protocol))
	}
	if setup.Model != "" {
		attrs = append(attrs, AttrModel.String(setup.Model))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

// samplerFor maps a sample rate in [0, 1] to a root sampler.
func samplerFor(rate float64) (sdktrace.Sampler, error) {
	switch {
	case rate < 0 || rate > 1:
		return nil, fmt.Errorf("tracing sample_rate must be between 0.0 and 1.0, got %g", rate)
	case rate == 0:
		return sdktrace.NeverSample(), nil
	case rate == 1:
		return sdktrace.AlwaysSample(), nil
	default:
		return sdktrace.TraceIDRatioBased(rate), nil
	}
}

func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(tracerName)
	}
	return p.tracer
}

// ShouldPropagate reports whether requests carry W3C trace headers.
func (p *Provider) ShouldPropagate() bool {
	return p != nil && p.propagate
}

// Shutdown flushes buffered spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}

	switch protocol := strings.ToLower(cfg.Protocol); protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q: use \"grpc\" or \"http\"", protocol)
	}
}
