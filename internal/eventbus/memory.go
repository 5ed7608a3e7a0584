package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/pkg/log"
)

// MemoryConfig memory bus configuration
type MemoryConfig struct {
	BufferSize      int           `json:"buffer_size"`
	MaxDeliveries   int           `json:"max_deliveries"`
	RedeliveryDelay time.Duration `json:"redelivery_delay"`
	PublishTimeout  time.Duration `json:"publish_timeout"`
}

// MemoryBus in-process bus. Every subscription of a topic receives each message;
// consumers sharing a subscription compete for its messages.
type MemoryBus struct {
	config  MemoryConfig
	mu      sync.RWMutex
	topics  map[string]map[string]*memorySubscription
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// memorySubscription one queue per (topic, subscription) pair
type memorySubscription struct {
	name     string
	messages chan *Message
}

// NewMemoryBus creates a new memory bus instance
func NewMemoryBus(config MemoryConfig) *MemoryBus {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.MaxDeliveries <= 0 {
		config.MaxDeliveries = 5
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 5 * time.Second
	}

	return &MemoryBus{
		config:  config,
		topics:  make(map[string]map[string]*memorySubscription),
		closeCh: make(chan struct{}),
	}
}

// Publish delivers a copy of msg to every subscription of topic.
// Messages published to a topic without subscriptions are dropped.
func (b *MemoryBus) Publish(ctx context.Context, topic string, msg *Message) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	subs := make([]*memorySubscription, 0, len(b.topics[topic]))
	for _, s := range b.topics[topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	if len(subs) == 0 {
		log.WithFields(map[string]interface{}{
			"topic": topic,
			"id":    msg.ID,
		}).Debug("No subscription for topic, message dropped")
		return nil
	}

	timer := time.NewTimer(b.config.PublishTimeout)
	defer timer.Stop()

	for _, s := range subs {
		select {
		case s.messages <- copyMessage(msg, topic, 1):
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closeCh:
			return ErrBusClosed
		case <-timer.C:
			return ErrPublishTimeout
		}
	}
	return nil
}

// Subscribe consumes the subscription until ctx is cancelled or the bus is closed
func (b *MemoryBus) Subscribe(ctx context.Context, topic, subscription string, handler Handler) error {
	if topic == "" || subscription == "" {
		return ErrInvalidTopic
	}

	s, err := b.declare(topic, subscription)
	if err != nil {
		return err
	}

	// handlers finish their current message even after ctx is cancelled
	handlerCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.closeCh:
			return ErrBusClosed
		case msg := <-s.messages:
			if err := handler(handlerCtx, msg); err != nil {
				b.nack(s, msg, err)
			}
		}
	}
}

// Declare creates the subscription ahead of its consumer so messages published meanwhile are kept
func (b *MemoryBus) Declare(_ context.Context, topic, subscription string) error {
	_, err := b.declare(topic, subscription)
	return err
}

func (b *MemoryBus) declare(topic, subscription string) (*memorySubscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[string]*memorySubscription)
		b.topics[topic] = subs
	}
	s, ok := subs[subscription]
	if !ok {
		s = &memorySubscription{
			name:     subscription,
			messages: make(chan *Message, b.config.BufferSize),
		}
		subs[subscription] = s
	}
	return s, nil
}

// nack schedules a redelivery or drops the message once MaxDeliveries is reached
func (b *MemoryBus) nack(s *memorySubscription, msg *Message, cause error) {
	fields := map[string]interface{}{
		"topic":        msg.Topic,
		"subscription": s.name,
		"id":           msg.ID,
		"attempt":      msg.DeliveryAttempt,
		"error":        cause.Error(),
	}

	if msg.DeliveryAttempt >= b.config.MaxDeliveries {
		log.WithFields(fields).Error("Message exceeded max deliveries, dropped")
		return
	}

	log.WithFields(fields).Warn("Message nacked, scheduling redelivery")

	next := copyMessage(msg, msg.Topic, msg.DeliveryAttempt+1)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		timer := time.NewTimer(b.config.RedeliveryDelay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-b.closeCh:
			return
		}

		select {
		case s.messages <- next:
		case <-b.closeCh:
		}
	}()
}

// Health checks the health of the bus
func (b *MemoryBus) Health(_ context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	return nil
}

// Close stops all subscriptions and pending redeliveries
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// Pending returns the number of queued messages of a subscription
func (b *MemoryBus) Pending(topic, subscription string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if s, ok := b.topics[topic][subscription]; ok {
		return len(s.messages)
	}
	return 0
}

func copyMessage(msg *Message, topic string, attempt int) *Message {
	c := &Message{
		ID:              msg.ID,
		Topic:           topic,
		Data:            append([]byte(nil), msg.Data...),
		DeliveryAttempt: attempt,
	}
	if msg.Attributes != nil {
		c.Attributes = make(map[string]string, len(msg.Attributes))
		for k, v := range msg.Attributes {
			c.Attributes[k] = v
		}
	}
	return c
}
