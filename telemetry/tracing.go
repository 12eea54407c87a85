package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var tracing atomic.Bool

// InitTracing exports spans over OTLP/gRPC to endpoint. An empty endpoint leaves
// tracing off and StartSpan returns the span already in the context.
func InitTracing(serviceName, serviceVersion, endpoint string) (func(), error) {
	if endpoint == "" {
		slog.Info("tracing disabled: no OTLP endpoint configured")
		return func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(provider)
	tracing.Store(true)
	slog.Info("tracing initialized", slog.String("service", serviceName), slog.String("endpoint", endpoint))

	return func() {
		tracing.Store(false)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shutdown tracer provider", slog.Any("err", err))
		}
	}, nil
}

// TracingEnabled reports whether spans are exported.
func TracingEnabled() bool {
	return tracing.Load()
}

// StartSpan starts a span tagged with the request correlation id. attrs is only
// evaluated when tracing is on.
func StartSpan(ctx context.Context, component, name string, attrs func() []attribute.KeyValue) (context.Context, trace.Span) {
	if !TracingEnabled() {
		return ctx, trace.SpanFromContext(ctx)
	}
	var kv []attribute.KeyValue
	if attrs != nil {
		kv = attrs()
	}
	if corr := GetCorrelation(ctx); corr != "" {
		kv = append(kv, attribute.String("correlation_id", corr))
	}
	return otel.Tracer(component).Start(ctx, name, trace.WithAttributes(kv...))
}

// EndSpan sets the span status from err and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// HTTPAttrs describes an incoming request.
func HTTPAttrs(method, route, url string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.String("http.url", url),
	}
}

// SetSpanHTTPStatus records the response status; 4xx and 5xx mark the span failed.
func SetSpanHTTPStatus(span trace.Span, status int) {
	span.SetAttributes(attribute.Int("http.status_code", status))
	if status >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
	}
}
