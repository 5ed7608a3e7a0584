package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"storefront/pkg/log"
)

// headerMessageID carries Message.ID next to the attribute headers
const headerMessageID = "message-id"

// KafkaConfig Kafka bus configuration
type KafkaConfig struct {
	Brokers         []string
	MaxWait         time.Duration
	MaxDeliveries   int
	RedeliveryDelay time.Duration
}

// KafkaBus event bus on Kafka. A subscription is a consumer group.
type KafkaBus struct {
	config KafkaConfig

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers []*kafka.Reader
	closed  bool
	closeCh chan struct{}
}

// NewKafkaBus creates a Kafka bus; connections are opened lazily
func NewKafkaBus(config KafkaConfig) *KafkaBus {
	if config.MaxWait <= 0 {
		config.MaxWait = time.Second
	}
	if config.MaxDeliveries <= 0 {
		config.MaxDeliveries = 5
	}
	if config.RedeliveryDelay <= 0 {
		config.RedeliveryDelay = time.Second
	}

	return &KafkaBus{
		config:  config,
		writers: make(map[string]*kafka.Writer),
		closeCh: make(chan struct{}),
	}
}

func (b *KafkaBus) writer(topic string) (*kafka.Writer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if w, ok := b.writers[topic]; ok {
		return w, nil
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(b.config.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	b.writers[topic] = w
	return w, nil
}

// Publish writes the message keyed by its id, attributes travel as headers
func (b *KafkaBus) Publish(ctx context.Context, topic string, msg *Message) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	w, err := b.writer(topic)
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	if err := w.WriteMessages(ctx, toKafkaMessage(msg)); err != nil {
		return fmt.Errorf("write %s: %w", topic, err)
	}
	return nil
}

// Subscribe consumes the topic in consumer group subscription.
// A failed message is retried in-process, then committed once MaxDeliveries is reached.
// A message interrupted by shutdown is left uncommitted for the group's next consumer.
func (b *KafkaBus) Subscribe(ctx context.Context, topic, subscription string, handler Handler) error {
	if topic == "" || subscription == "" {
		return ErrInvalidTopic
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: b.config.Brokers,
		GroupID: subscription,
		Topic:   topic,
		MaxWait: b.config.MaxWait,
	})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = reader.Close()
		return ErrBusClosed
	}
	b.readers = append(b.readers, reader)
	b.mu.Unlock()

	handlerCtx := context.WithoutCancel(ctx)

	for {
		km, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if b.isClosed() || errors.Is(err, kafka.ErrGroupClosed) {
				return ErrBusClosed
			}
			log.WithFields(map[string]interface{}{
				"topic": topic,
				"group": subscription,
				"error": err.Error(),
			}).Error("Failed to fetch message")
			if !b.wait(ctx, b.config.RedeliveryDelay) {
				if ctx.Err() != nil {
					return nil
				}
				return ErrBusClosed
			}
			continue
		}

		if !b.handle(ctx, handlerCtx, km, subscription, handler) {
			if ctx.Err() != nil {
				return nil
			}
			return ErrBusClosed
		}

		if err := reader.CommitMessages(handlerCtx, km); err != nil {
			log.WithFields(map[string]interface{}{
				"topic":  topic,
				"group":  subscription,
				"offset": km.Offset,
				"error":  err.Error(),
			}).Error("Failed to commit message")
		}
	}
}

// handle delivers km until it is acked or MaxDeliveries is reached and reports whether km
// may be committed. waitCtx bounds the redelivery delay; handlerCtx is passed to handler.
func (b *KafkaBus) handle(waitCtx, handlerCtx context.Context, km kafka.Message, group string, handler Handler) bool {
	for attempt := 1; ; attempt++ {
		msg := fromKafkaMessage(km, attempt)
		err := handler(handlerCtx, msg)
		if err == nil {
			return true
		}

		fields := map[string]interface{}{
			"topic":   km.Topic,
			"group":   group,
			"id":      msg.ID,
			"attempt": attempt,
			"error":   err.Error(),
		}
		if attempt >= b.config.MaxDeliveries {
			log.WithFields(fields).Error("Message exceeded max deliveries, dropped")
			return true
		}
		log.WithFields(fields).Warn("Message nacked, retrying")
		if !b.wait(waitCtx, b.config.RedeliveryDelay) {
			return false
		}
	}
}

// wait sleeps for d and returns false if ctx ends or the bus closes first
func (b *KafkaBus) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-b.closeCh:
		return false
	}
}

func toKafkaMessage(msg *Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Attributes)+1)
	headers = append(headers, kafka.Header{Key: headerMessageID, Value: []byte(msg.ID)})
	for k, v := range msg.Attributes {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Key:     []byte(msg.ID),
		Value:   msg.Data,
		Headers: headers,
	}
}

func fromKafkaMessage(km kafka.Message, attempt int) *Message {
	msg := &Message{
		ID:              string(km.Key),
		Topic:           km.Topic,
		Data:            km.Value,
		DeliveryAttempt: attempt,
	}
	for _, h := range km.Headers {
		if h.Key == headerMessageID {
			msg.ID = string(h.Value)
			continue
		}
		msg.SetAttr(h.Key, string(h.Value))
	}
	return msg
}

func (b *KafkaBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Health dials the first reachable broker
func (b *KafkaBus) Health(ctx context.Context) error {
	if b.isClosed() {
		return ErrBusClosed
	}

	var lastErr error
	for _, broker := range b.config.Brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	if lastErr == nil {
		lastErr = errors.New("no kafka brokers configured")
	}
	return fmt.Errorf("kafka unreachable: %w", lastErr)
}

// Close closes all writers and readers
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.closeCh)

	var errs []error
	for _, w := range b.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range b.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
