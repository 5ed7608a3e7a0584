package eventbus

import (
	"context"
	"time"

	"storefront/internal/monitor"
	"storefront/pkg/breaker"
)

// Option configures an instrumented bus
type Option func(*InstrumentedBus)

// WithBreaker guards Publish with one circuit breaker per topic
func WithBreaker(m *breaker.Manager) Option {
	return func(b *InstrumentedBus) { b.breakers = m }
}

// WithTracer adds publish and consume spans and propagates trace context in attributes
func WithTracer(t *monitor.Tracer) Option {
	return func(b *InstrumentedBus) { b.tracer = t }
}

// WithMetrics records message counts and handler durations
func WithMetrics(mc *monitor.MetricsCollector) Option {
	return func(b *InstrumentedBus) { b.metrics = mc }
}

// InstrumentedBus decorates a driver with breaker, tracing and metrics
type InstrumentedBus struct {
	Bus
	breakers *breaker.Manager
	tracer   *monitor.Tracer
	metrics  *monitor.MetricsCollector
}

// Instrument wraps bus with the given options
func Instrument(bus Bus, opts ...Option) *InstrumentedBus {
	b := &InstrumentedBus{Bus: bus}
	for _, opt := range opts {
		opt(b)
	}
	if b.tracer == nil {
		b.tracer = monitor.NewNoopTracer()
	}
	return b
}

// Publish injects the trace context and publishes through the topic breaker
func (b *InstrumentedBus) Publish(ctx context.Context, topic string, msg *Message) error {
	if msg.Attributes == nil {
		msg.Attributes = make(map[string]string)
	}
	ctx, span := b.tracer.StartPublishSpan(ctx, topic, msg.Attributes)
	defer span.End()

	publish := func() error { return b.Bus.Publish(ctx, topic, msg) }

	var err error
	if b.breakers != nil {
		err = b.breakers.Execute(ctx, "publish:"+topic, publish)
	} else {
		err = publish()
	}

	b.tracer.RecordError(span, err)
	b.record(topic, monitor.OperationPublish, err)
	return err
}

// Subscribe wraps handler with a consume span and metrics
func (b *InstrumentedBus) Subscribe(ctx context.Context, topic, subscription string, handler Handler) error {
	wrapped := func(ctx context.Context, msg *Message) error {
		ctx, span := b.tracer.StartConsumeSpan(ctx, topic, subscription, msg.Attributes)
		defer span.End()

		start := time.Now()
		err := handler(ctx, msg)

		b.tracer.RecordError(span, err)
		b.record(topic, monitor.OperationConsume, err)
		if b.metrics != nil {
			b.metrics.RecordHandlerDuration(topic, subscription, time.Since(start))
		}
		return err
	}

	if b.metrics != nil {
		b.metrics.SubscriptionStarted(topic, subscription)
		defer b.metrics.SubscriptionStopped(topic, subscription)
	}
	return b.Bus.Subscribe(ctx, topic, subscription, wrapped)
}

// Declare forwards to the driver
func (b *InstrumentedBus) Declare(ctx context.Context, topic, subscription string) error {
	return Declare(ctx, b.Bus, topic, subscription)
}

func (b *InstrumentedBus) record(topic, operation string, err error) {
	if b.metrics == nil {
		return
	}
	status := monitor.StatusOK
	switch {
	case breaker.IsRejection(err):
		status = monitor.StatusRejected
	case err != nil:
		status = monitor.StatusError
	}
	b.metrics.RecordBusMessage(topic, operation, status)
}
