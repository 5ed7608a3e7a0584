package consumer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"storefront/internal/eventbus"
	"storefront/pkg/log"
)

const defaultBackoff = time.Second

// Consumer keeps one subscription alive until stopped
type Consumer struct {
	bus          eventbus.Subscriber
	topic        string
	subscription string
	handler      eventbus.Handler
	backoff      time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewConsumer creates a consumer for topic/subscription. Panics in handler are
// recovered and reported to the bus as a failed delivery.
func NewConsumer(bus eventbus.Subscriber, topic, subscription string, handler eventbus.Handler, backoff time.Duration) *Consumer {
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &Consumer{
		bus:          bus,
		topic:        topic,
		subscription: subscription,
		handler:      Recover(topic, subscription, handler),
		backoff:      backoff,
		done:         make(chan struct{}),
	}
}

// Start starts the consumer in its own goroutine
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	log.WithFields(map[string]interface{}{
		"topic":        c.topic,
		"subscription": c.subscription,
	}).Info("Starting consumer")

	go c.run(ctx)
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	for {
		err := c.bus.Subscribe(ctx, c.topic, c.subscription, c.handler)

		select {
		case <-ctx.Done():
			log.WithField("subscription", c.subscription).Info("Consumer stopped")
			return
		default:
		}

		if errors.Is(err, eventbus.ErrBusClosed) {
			log.WithField("subscription", c.subscription).Info("Consumer stopped, bus closed")
			return
		}

		fields := map[string]interface{}{
			"topic":        c.topic,
			"subscription": c.subscription,
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		log.WithFields(fields).Error("Subscription ended, resubscribing")

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff):
		}
	}
}

// Stop cancels the subscription and waits for in-flight handling to finish
func (c *Consumer) Stop() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
	if c.cancel != nil {
		<-c.done
	}
}

// Done is closed once the consumer has stopped
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Recover wraps handler so a panic becomes an error
func Recover(topic, subscription string, handler eventbus.Handler) eventbus.Handler {
	return func(ctx context.Context, msg *eventbus.Message) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(map[string]interface{}{
					"topic":        topic,
					"subscription": subscription,
					"id":           msg.ID,
					"panic":        r,
					"stack":        string(debug.Stack()),
				}).Error("Handler panic recovered")
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return handler(ctx, msg)
	}
}
