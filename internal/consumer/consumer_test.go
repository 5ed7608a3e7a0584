package consumer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/eventbus"
)

func TestRecover(t *testing.T) {
	h := Recover("t", "s", func(ctx context.Context, msg *eventbus.Message) error {
		panic("boom")
	})

	err := h(context.Background(), &eventbus.Message{ID: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestConsumer_DeliversAndStops(t *testing.T) {
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{BufferSize: 8, MaxDeliveries: 3, RedeliveryDelay: time.Millisecond})
	defer bus.Close()
	require.NoError(t, bus.Declare(context.Background(), "topic", "sub"))

	got := make(chan string, 1)
	c := NewConsumer(bus, "topic", "sub", func(ctx context.Context, msg *eventbus.Message) error {
		got <- string(msg.Data)
		return nil
	}, 10*time.Millisecond)
	c.Start(context.Background())

	require.NoError(t, bus.Publish(context.Background(), "topic", &eventbus.Message{ID: "1", Data: []byte("hello")}))

	select {
	case data := <-got:
		assert.Equal(t, "hello", data)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	c.Stop()
	select {
	case <-c.Done():
	default:
		t.Fatal("consumer still running after Stop")
	}
}

func TestConsumer_PanicIsRedelivered(t *testing.T) {
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{BufferSize: 8, MaxDeliveries: 3, RedeliveryDelay: time.Millisecond})
	defer bus.Close()
	require.NoError(t, bus.Declare(context.Background(), "topic", "sub"))

	var calls int32
	c := NewConsumer(bus, "topic", "sub", func(ctx context.Context, msg *eventbus.Message) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("first delivery")
		}
		return nil
	}, 10*time.Millisecond)
	c.Start(context.Background())
	defer c.Stop()

	require.NoError(t, bus.Publish(context.Background(), "topic", &eventbus.Message{ID: "1", Data: []byte("x")}))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, 5*time.Millisecond)
}

// flakySubscriber fails the first Subscribe calls and then blocks
type flakySubscriber struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakySubscriber) Subscribe(ctx context.Context, topic, subscription string, handler eventbus.Handler) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()

	if fail {
		return errors.New("connection reset")
	}
	<-ctx.Done()
	return nil
}

func (s *flakySubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestConsumer_Resubscribes(t *testing.T) {
	sub := &flakySubscriber{failures: 2}
	c := NewConsumer(sub, "topic", "sub", func(context.Context, *eventbus.Message) error { return nil }, 5*time.Millisecond)
	c.Start(context.Background())

	assert.Eventually(t, func() bool { return sub.count() == 3 }, time.Second, 5*time.Millisecond)

	c.Stop()
	assert.Equal(t, 3, sub.count())
}

func TestConsumer_StopsWhenBusCloses(t *testing.T) {
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{BufferSize: 8})
	c := NewConsumer(bus, "topic", "sub", func(context.Context, *eventbus.Message) error { return nil }, time.Millisecond)
	c.Start(context.Background())

	require.NoError(t, bus.Close())

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after bus close")
	}
	c.Stop()
}
