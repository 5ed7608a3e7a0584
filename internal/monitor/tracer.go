package monitor

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracerConfig tracing configuration
type TracerConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	JaegerEndpoint string
	SamplingRate   float64
	Enabled        bool
}

// Tracer wraps an OpenTelemetry tracer; a disabled tracer starts no-op spans
type Tracer struct {
	config   *TracerConfig
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewTracer creates a tracer. The W3C propagator is installed either way so
// trace context keeps flowing through services that do not export spans.
func NewTracer(config *TracerConfig) (*Tracer, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !config.Enabled {
		return &Tracer{
			config: config,
			tracer: otel.Tracer(config.ServiceName),
		}, nil
	}

	exporter, err := jaeger.New(
		jaeger.WithCollectorEndpoint(
			jaeger.WithEndpoint(config.JaegerEndpoint),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(config.SamplingRate))),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{
		config:   config,
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
	}, nil
}

// NewNoopTracer returns a disabled tracer
func NewNoopTracer() *Tracer {
	t, _ := NewTracer(&TracerConfig{ServiceName: "noop"})
	return t
}

// Enabled reports whether spans are exported
func (t *Tracer) Enabled() bool {
	return t.config.Enabled
}

// StartSpan starts an internal span
func (t *Tracer) StartSpan(ctx context.Context, operationName string, opts ...oteltrace.SpanStartOption) (context.Context, oteltrace.Span) {
	return t.tracer.Start(ctx, operationName, opts...)
}

// StartHTTPSpan starts a server span continuing the caller's trace
func (t *Tracer) StartHTTPSpan(ctx context.Context, method, route string, r *http.Request) (context.Context, oteltrace.Span) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))

	return t.tracer.Start(ctx, fmt.Sprintf("%s %s", method, route),
		oteltrace.WithSpanKind(oteltrace.SpanKindServer),
		oteltrace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPTargetKey.String(r.URL.Path),
			semconv.HTTPRouteKey.String(route),
			semconv.HTTPUserAgentKey.String(r.UserAgent()),
		),
	)
}

// StartPublishSpan starts a producer span and writes its context into attrs
func (t *Tracer) StartPublishSpan(ctx context.Context, topic string, attrs map[string]string) (context.Context, oteltrace.Span) {
	ctx, span := t.tracer.Start(ctx, "publish "+topic,
		oteltrace.WithSpanKind(oteltrace.SpanKindProducer),
		oteltrace.WithAttributes(
			attribute.String("messaging.operation", "publish"),
			attribute.String("messaging.destination", topic),
		),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(attrs))
	return ctx, span
}

// StartConsumeSpan starts a consumer span continuing the context found in attrs
func (t *Tracer) StartConsumeSpan(ctx context.Context, topic, subscription string, attrs map[string]string) (context.Context, oteltrace.Span) {
	if attrs != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(attrs))
	}

	return t.tracer.Start(ctx, "consume "+topic,
		oteltrace.WithSpanKind(oteltrace.SpanKindConsumer),
		oteltrace.WithAttributes(
			attribute.String("messaging.operation", "process"),
			attribute.String("messaging.destination", topic),
			attribute.String("messaging.subscription", subscription),
		),
	)
}

// RecordError marks the span as failed
func (t *Tracer) RecordError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the trace id of the current span or ""
func (t *Tracer) TraceID(ctx context.Context) string {
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// Shutdown flushes and stops the exporter
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
