package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBus(t *testing.T) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	bus := NewRedisBus(client, RedisConfig{
		StreamPrefix:  "test:",
		BatchSize:     10,
		Block:         20 * time.Millisecond,
		ClaimMinIdle:  30 * time.Millisecond,
		MaxDeliveries: 3,
		Consumer:      "c1",
	})
	t.Cleanup(func() { _ = bus.Close() })
	return bus, mr
}

func TestRedisBus_Publish(t *testing.T) {
	bus, mr := newTestRedisBus(t)
	ctx := context.Background()

	msg := &Message{ID: "m1", Attributes: map[string]string{"eventType": "order.created"}, Data: []byte(`{"x":1}`)}
	require.NoError(t, bus.Publish(ctx, "order.created", msg))

	entries, err := mr.Stream("test:order.created")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{
		"id", "m1",
		"data", `{"x":1}`,
		"attributes", `{"eventType":"order.created"}`,
	}, sortedStreamValues(entries[0].Values))
}

// sortedStreamValues orders stream fields as id, data, attributes
func sortedStreamValues(values []string) []string {
	order := []string{fieldID, fieldData, fieldAttributes}
	kv := make(map[string]string, len(values)/2)
	for i := 0; i+1 < len(values); i += 2 {
		kv[values[i]] = values[i+1]
	}
	out := make([]string, 0, len(values))
	for _, k := range order {
		if v, ok := kv[k]; ok {
			out = append(out, k, v)
		}
	}
	return out
}

func TestRedisBus_SubscribeAcks(t *testing.T) {
	bus, _ := newTestRedisBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Declare(ctx, "order.created", "catalog"))
	require.NoError(t, bus.Publish(ctx, "order.created", &Message{
		ID:         "m1",
		Attributes: map[string]string{"correlationId": "c-1"},
		Data:       []byte("payload"),
	}))

	received := make(chan *Message, 1)
	go func() {
		_ = bus.Subscribe(ctx, "order.created", "catalog", func(_ context.Context, msg *Message) error {
			received <- msg
			return nil
		})
	}()

	got := receive(t, received)
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "order.created", got.Topic)
	assert.Equal(t, "c-1", got.Attr("correlationId"))
	assert.Equal(t, []byte("payload"), got.Data)
	assert.Equal(t, 1, got.DeliveryAttempt)

	assert.Eventually(t, func() bool {
		pending, err := bus.client.XPending(context.Background(), "test:order.created", "catalog").Result()
		return err == nil && pending.Count == 0
	}, time.Second, 10*time.Millisecond)
}

func TestRedisBus_NackIsReclaimed(t *testing.T) {
	bus, _ := newTestRedisBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Declare(ctx, "stock-events", "order"))
	require.NoError(t, bus.Publish(ctx, "stock-events", &Message{ID: "m1", Data: []byte("x")}))

	attempts := make(chan int, 5)
	go func() {
		_ = bus.Subscribe(ctx, "stock-events", "order", func(_ context.Context, msg *Message) error {
			attempts <- msg.DeliveryAttempt
			if msg.DeliveryAttempt == 1 {
				return errors.New("transient")
			}
			return nil
		})
	}()

	select {
	case a := <-attempts:
		assert.Equal(t, 1, a)
	case <-time.After(time.Second):
		t.Fatal("first delivery not received")
	}
	select {
	case a := <-attempts:
		assert.GreaterOrEqual(t, a, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("nacked message was not reclaimed")
	}
}

func TestRedisBus_DeclareIsIdempotent(t *testing.T) {
	bus, _ := newTestRedisBus(t)
	ctx := context.Background()

	require.NoError(t, bus.Declare(ctx, "order.created", "catalog"))
	assert.NoError(t, bus.Declare(ctx, "order.created", "catalog"))
}

func TestRedisBus_HealthAndClose(t *testing.T) {
	bus, _ := newTestRedisBus(t)
	ctx := context.Background()

	assert.NoError(t, bus.Health(ctx))
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Health(ctx), ErrBusClosed)
	assert.ErrorIs(t, bus.Publish(ctx, "t", &Message{}), ErrBusClosed)
	assert.NoError(t, bus.Close())
}

func TestRedisBus_SubscribeReturnsOnCancel(t *testing.T) {
	bus, _ := newTestRedisBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- bus.Subscribe(ctx, "order.created", "catalog", func(context.Context, *Message) error { return nil })
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscribe did not return after cancel")
	}
}
