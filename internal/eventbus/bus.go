package eventbus

import (
	"context"
	"errors"
)

// Message is a unit of delivery on the bus
type Message struct {
	ID         string            `json:"id"`
	Topic      string            `json:"topic"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Data       []byte            `json:"data"`
	// DeliveryAttempt starts at 1 and grows with every redelivery
	DeliveryAttempt int `json:"-"`
}

// Attr returns the attribute value or "" when absent
func (m *Message) Attr(key string) string {
	if m.Attributes == nil {
		return ""
	}
	return m.Attributes[key]
}

// SetAttr sets an attribute, allocating the map on first use
func (m *Message) SetAttr(key, value string) {
	if m.Attributes == nil {
		m.Attributes = make(map[string]string)
	}
	m.Attributes[key] = value
}

// Handler processes one message. nil acknowledges, an error requests redelivery.
type Handler func(ctx context.Context, msg *Message) error

// Publisher publishes messages to a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, msg *Message) error
}

// Subscriber delivers messages from a topic to a named subscription.
// Subscribe blocks until ctx is cancelled or the bus is closed.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, subscription string, handler Handler) error
}

// Declarer creates a subscription before its consumer starts, so messages
// published in between are retained by drivers that would otherwise drop them
type Declarer interface {
	Declare(ctx context.Context, topic, subscription string) error
}

// Declare declares the subscription when the bus supports it
func Declare(ctx context.Context, bus Subscriber, topic, subscription string) error {
	if d, ok := bus.(Declarer); ok {
		return d.Declare(ctx, topic, subscription)
	}
	return nil
}

// Bus is a publish/subscribe event bus
type Bus interface {
	Publisher
	Subscriber

	// Health checks the health of the bus
	Health(ctx context.Context) error

	// Close closes the bus connections
	Close() error
}

// Common errors
var (
	ErrBusClosed      = errors.New("event bus is closed")
	ErrPublishTimeout = errors.New("publish timeout")
	ErrInvalidTopic   = errors.New("invalid topic")
)
