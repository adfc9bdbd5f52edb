package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Resource attribute keys describing what a process prices and where it
// keeps history.
const (
	AttrPricingLocation = attribute.Key("hybridcost.pricing.location")
	AttrStorageBackend  = attribute.Key("hybridcost.storage.backend")
	AttrSourceMode      = attribute.Key("hybridcost.source.mode")
)

// TracingOptions configures InitTracing.
type TracingOptions struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is the OTLP/HTTP URL; OTEL_EXPORTER_OTLP_ENDPOINT is used when
	// empty, and spans are discarded when both are.
	Endpoint string
	// SampleRatio applies to root spans. Child spans follow their parent.
	SampleRatio float64

	AWSRegion       string
	PricingLocation string
	StorageBackend  string
	// Mock marks a process driven by the scripted source.
	Mock bool
}

func (o TracingOptions) resource() (*resource.Resource, error) {
	mode := "aws"
	if o.Mock {
		mode = "mock"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(o.ServiceName),
		semconv.ServiceVersion(o.ServiceVersion),
		AttrSourceMode.String(mode),
	}
	if o.AWSRegion != "" {
		attrs = append(attrs, semconv.CloudProviderAWS, semconv.CloudRegion(o.AWSRegion))
	}
	if o.PricingLocation != "" {
		attrs = append(attrs, AttrPricingLocation.String(o.PricingLocation))
	}
	if o.StorageBackend != "" {
		attrs = append(attrs, AttrStorageBackend.String(o.StorageBackend))
	}
	// Schemaless: Merge rejects two differing schema URLs.
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

func (o TracingOptions) sampler() sdktrace.Sampler {
	switch {
	case o.SampleRatio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case o.SampleRatio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(o.SampleRatio))
	}
}

func newTracerProvider(o TracingOptions, sp sdktrace.SpanProcessor) (*sdktrace.TracerProvider, error) {
	res, err := o.resource()
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(o.sampler()),
	), nil
}

// InitTracing configures the global OpenTelemetry tracer provider and
// returns its shutdown func.
func InitTracing(ctx context.Context, o TracingOptions) (func(context.Context) error, error) {
	endpoint := o.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	if endpoint != "" {
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(io.Discard))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	}

	tp, err := newTracerProvider(o, sdktrace.NewBatchSpanProcessor(exporter))
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
