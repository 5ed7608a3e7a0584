package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/config"
	"storefront/internal/monitor"
	"storefront/pkg/breaker"
)

// failingBus fails every publish
type failingBus struct {
	*MemoryBus
	calls int
}

func (f *failingBus) Publish(context.Context, string, *Message) error {
	f.calls++
	return errors.New("broker unavailable")
}

func TestInstrumentedBus_BreakerOpens(t *testing.T) {
	inner := &failingBus{MemoryBus: NewMemoryBus(MemoryConfig{})}
	defer inner.Close()

	bus := Instrument(inner, WithBreaker(breaker.NewManager(breaker.Config{
		Timeout: time.Minute,
		ReadyToTrip: func(c breaker.Counts) bool {
			return c.ConsecutiveFailures >= 2
		},
	})))

	ctx := context.Background()
	assert.Error(t, bus.Publish(ctx, "order.created", &Message{}))
	assert.Error(t, bus.Publish(ctx, "order.created", &Message{}))

	err := bus.Publish(ctx, "order.created", &Message{})
	assert.ErrorIs(t, err, breaker.ErrOpenState)
	assert.Equal(t, 2, inner.calls)
}

func TestInstrumentedBus_MetricsAndDeclare(t *testing.T) {
	inner := NewMemoryBus(MemoryConfig{})
	defer inner.Close()

	mc := monitor.NewMetricsCollector("test")
	bus := Instrument(inner, WithMetrics(mc))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Declare(ctx, "stock-events", "sub"))

	received := make(chan *Message, 1)
	go func() {
		_ = bus.Subscribe(ctx, "stock-events", "sub", func(_ context.Context, msg *Message) error {
			received <- msg
			return nil
		})
	}()

	msg := &Message{Data: []byte("x")}
	require.NoError(t, bus.Publish(ctx, "stock-events", msg))
	assert.NotNil(t, msg.Attributes)

	got := receive(t, received)
	assert.Equal(t, []byte("x"), got.Data)
}

func TestNewBreakerManager(t *testing.T) {
	assert.Nil(t, NewBreakerManager(config.CircuitBreakConfig{}))
	assert.NotNil(t, NewBreakerManager(config.CircuitBreakConfig{Enabled: true, FailureRatio: 0.5}))
}

func TestNew(t *testing.T) {
	bus, err := New(context.Background(), config.BusConfig{Driver: config.BusMemory, MaxDeliveries: 2}, "test")
	require.NoError(t, err)
	defer bus.Close()
	assert.IsType(t, &MemoryBus{}, bus)

	_, err = New(context.Background(), config.BusConfig{Driver: "nats"}, "test")
	assert.Error(t, err)
}
