package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"storefront/pkg/log"
)

// Headers owned by the bus, never exposed as attributes
const (
	headerDeliveryAttempt = "x-delivery-attempt"
	headerTopic           = "x-topic"
)

// RabbitMQConfig RabbitMQ bus configuration
type RabbitMQConfig struct {
	URL             string
	Exchange        string
	Prefetch        int
	MaxDeliveries   int
	RedeliveryDelay time.Duration
}

// RabbitMQBus event bus on a durable topic exchange.
// Each subscription is a durable queue bound to the topic routing key.
type RabbitMQBus struct {
	config RabbitMQConfig
	conn   *amqp.Connection

	pubMu sync.Mutex
	pubCh *amqp.Channel

	mu     sync.RWMutex
	closed bool
}

// NewRabbitMQBus dials the broker and declares the exchange
func NewRabbitMQBus(config RabbitMQConfig) (*RabbitMQBus, error) {
	if config.Exchange == "" {
		config.Exchange = "storefront.events"
	}
	if config.Prefetch <= 0 {
		config.Prefetch = 10
	}
	if config.MaxDeliveries <= 0 {
		config.MaxDeliveries = 5
	}

	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch, config.Exchange); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &RabbitMQBus{
		config: config,
		conn:   conn,
		pubCh:  ch,
	}, nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

// Publish sends the message to the exchange with the topic as routing key
func (b *RabbitMQBus) Publish(ctx context.Context, topic string, msg *Message) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if b.isClosed() {
		return ErrBusClosed
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	return b.publish(ctx, b.config.Exchange, topic, toPublishing(msg, topic, 1))
}

func (b *RabbitMQBus) publish(ctx context.Context, exchange, routingKey string, p amqp.Publishing) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if err := b.pubCh.PublishWithContext(ctx, exchange, routingKey, false, false, p); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Subscribe consumes the subscription queue with manual acks
func (b *RabbitMQBus) Subscribe(ctx context.Context, topic, subscription string, handler Handler) error {
	if topic == "" || subscription == "" {
		return ErrInvalidTopic
	}
	if b.isClosed() {
		return ErrBusClosed
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareExchange(ch, b.config.Exchange); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(subscription, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", subscription, err)
	}
	if err := ch.QueueBind(subscription, topic, b.config.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", subscription, err)
	}
	if err := ch.Qos(b.config.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(subscription, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", subscription, err)
	}

	handlerCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if b.isClosed() {
					return ErrBusClosed
				}
				return errors.New("rabbitmq delivery channel closed")
			}
			b.handle(handlerCtx, d, subscription, handler)
		}
	}
}

func (b *RabbitMQBus) handle(ctx context.Context, d amqp.Delivery, queue string, handler Handler) {
	msg := fromDelivery(d)
	err := handler(ctx, msg)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	fields := map[string]interface{}{
		"queue":   queue,
		"id":      msg.ID,
		"attempt": msg.DeliveryAttempt,
		"error":   err.Error(),
	}
	if msg.DeliveryAttempt >= b.config.MaxDeliveries {
		log.WithFields(fields).Error("Message exceeded max deliveries, dropped")
		_ = d.Nack(false, false)
		return
	}

	log.WithFields(fields).Warn("Message nacked, scheduling redelivery")
	time.Sleep(b.config.RedeliveryDelay)

	// default exchange routes by queue name, so other subscriptions are not redelivered to
	p := toPublishing(msg, msg.Topic, msg.DeliveryAttempt+1)
	if err := b.publish(ctx, "", queue, p); err != nil {
		fields["error"] = err.Error()
		log.WithFields(fields).Error("Failed to republish message, requeueing")
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func toPublishing(msg *Message, topic string, attempt int) amqp.Publishing {
	headers := amqp.Table{
		headerDeliveryAttempt: int32(attempt),
		headerTopic:           topic,
	}
	for k, v := range msg.Attributes {
		headers[k] = v
	}

	return amqp.Publishing{
		MessageId:    msg.ID,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         msg.Data,
	}
}

func fromDelivery(d amqp.Delivery) *Message {
	msg := &Message{
		ID:              d.MessageId,
		Topic:           d.RoutingKey,
		Data:            d.Body,
		DeliveryAttempt: deliveryAttempt(d.Headers),
	}
	for k, v := range d.Headers {
		if k == headerTopic {
			if s, ok := v.(string); ok && s != "" {
				msg.Topic = s
			}
			continue
		}
		if strings.HasPrefix(k, "x-") {
			continue
		}
		if s, ok := v.(string); ok {
			msg.SetAttr(k, s)
		}
	}
	return msg
}

func deliveryAttempt(headers amqp.Table) int {
	switch v := headers[headerDeliveryAttempt].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

func (b *RabbitMQBus) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Health reports whether the connection is still open
func (b *RabbitMQBus) Health(_ context.Context) error {
	if b.isClosed() {
		return ErrBusClosed
	}
	if b.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// Close closes the channel and the connection
func (b *RabbitMQBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.pubMu.Lock()
	_ = b.pubCh.Close()
	b.pubMu.Unlock()
	return b.conn.Close()
}
