package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	redisclient "storefront/internal/redis"
	"storefront/pkg/log"
)

// Stream entry fields
const (
	fieldID         = "id"
	fieldData       = "data"
	fieldAttributes = "attributes"
)

// RedisConfig Redis Streams bus configuration
type RedisConfig struct {
	StreamPrefix  string
	BatchSize     int64
	Block         time.Duration
	ClaimMinIdle  time.Duration
	MaxDeliveries int
	// Consumer names this process inside every consumer group
	Consumer string
}

// RedisBus event bus on Redis Streams. Each subscription is a consumer group.
type RedisBus struct {
	client *redis.Client
	config RedisConfig

	mu      sync.RWMutex
	closed  bool
	closeCh chan struct{}
}

// NewRedisBus creates a bus on an existing client
func NewRedisBus(client *redis.Client, config RedisConfig) *RedisBus {
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.Block <= 0 {
		config.Block = 2 * time.Second
	}
	if config.ClaimMinIdle <= 0 {
		config.ClaimMinIdle = 30 * time.Second
	}
	if config.MaxDeliveries <= 0 {
		config.MaxDeliveries = 5
	}
	if config.Consumer == "" {
		host, _ := os.Hostname()
		config.Consumer = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}

	return &RedisBus{
		client:  client,
		config:  config,
		closeCh: make(chan struct{}),
	}
}

func (b *RedisBus) stream(topic string) string {
	return b.config.StreamPrefix + topic
}

// Publish appends the message to the topic stream
func (b *RedisBus) Publish(ctx context.Context, topic string, msg *Message) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if b.isClosed() {
		return ErrBusClosed
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	attrs, err := json.Marshal(msg.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream(topic),
		Values: map[string]interface{}{
			fieldID:         msg.ID,
			fieldData:       string(msg.Data),
			fieldAttributes: string(attrs),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", b.stream(topic), err)
	}
	return nil
}

// Declare creates the consumer group of a subscription
func (b *RedisBus) Declare(ctx context.Context, topic, subscription string) error {
	err := b.client.XGroupCreateMkStream(ctx, b.stream(topic), subscription, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", subscription, b.stream(topic), err)
	}
	return nil
}

// Subscribe reads the consumer group until ctx is cancelled or the bus is closed.
// Failed messages stay pending and are reclaimed once idle for ClaimMinIdle.
func (b *RedisBus) Subscribe(ctx context.Context, topic, subscription string, handler Handler) error {
	if topic == "" || subscription == "" {
		return ErrInvalidTopic
	}
	if b.isClosed() {
		return ErrBusClosed
	}
	if err := b.Declare(ctx, topic, subscription); err != nil {
		return err
	}

	// stop blocking reads when the bus is closed
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.closeCh:
			cancel()
		case <-readCtx.Done():
		}
	}()

	handlerCtx := context.WithoutCancel(ctx)
	stream := b.stream(topic)
	lastClaim := time.Now()

	for {
		if b.isClosed() {
			return ErrBusClosed
		}
		if ctx.Err() != nil {
			return nil
		}

		if time.Since(lastClaim) >= b.config.ClaimMinIdle {
			b.reclaim(readCtx, handlerCtx, stream, subscription, handler)
			lastClaim = time.Now()
		}

		streams, err := b.client.XReadGroup(readCtx, &redis.XReadGroupArgs{
			Group:    subscription,
			Consumer: b.config.Consumer,
			Streams:  []string{stream, ">"},
			Count:    b.config.BatchSize,
			Block:    b.config.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || readCtx.Err() != nil {
				continue
			}
			log.WithFields(map[string]interface{}{
				"stream": stream,
				"group":  subscription,
				"error":  err.Error(),
			}).Error("Failed to read stream")
			b.sleep(readCtx, time.Second)
			continue
		}

		for _, s := range streams {
			for _, xm := range s.Messages {
				b.deliver(handlerCtx, stream, subscription, topic, xm, 1, handler)
			}
		}
	}
}

// reclaim takes over messages left pending by failed or crashed consumers
func (b *RedisBus) reclaim(ctx, handlerCtx context.Context, stream, group string, handler Handler) {
	messages, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: b.config.Consumer,
		MinIdle:  b.config.ClaimMinIdle,
		Start:    "0-0",
		Count:    b.config.BatchSize,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			log.WithFields(map[string]interface{}{
				"stream": stream,
				"group":  group,
				"error":  err.Error(),
			}).Warn("Failed to reclaim pending messages")
		}
		return
	}

	topic := strings.TrimPrefix(stream, b.config.StreamPrefix)
	for _, xm := range messages {
		b.deliver(handlerCtx, stream, group, topic, xm, b.deliveryCount(ctx, stream, group, xm.ID), handler)
	}
}

func (b *RedisBus) deliveryCount(ctx context.Context, stream, group, id string) int {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	// a reclaimed message has been delivered at least once before
	if err != nil || len(pending) == 0 || pending[0].RetryCount < 2 {
		return 2
	}
	return int(pending[0].RetryCount)
}

func (b *RedisBus) deliver(ctx context.Context, stream, group, topic string, xm redis.XMessage, attempt int, handler Handler) {
	msg := decodeStreamEntry(xm, topic, attempt)
	fields := map[string]interface{}{
		"stream":  stream,
		"group":   group,
		"id":      msg.ID,
		"attempt": attempt,
	}

	err := handler(ctx, msg)
	if err != nil {
		fields["error"] = err.Error()
		if attempt < b.config.MaxDeliveries {
			log.WithFields(fields).Warn("Message nacked, left pending for redelivery")
			return
		}
		log.WithFields(fields).Error("Message exceeded max deliveries, dropped")
	}

	if err := b.client.XAck(ctx, stream, group, xm.ID).Err(); err != nil {
		fields["error"] = err.Error()
		log.WithFields(fields).Error("Failed to ack message")
	}
}

func decodeStreamEntry(xm redis.XMessage, topic string, attempt int) *Message {
	msg := &Message{
		ID:              xm.ID,
		Topic:           topic,
		DeliveryAttempt: attempt,
	}
	if id, ok := xm.Values[fieldID].(string); ok && id != "" {
		msg.ID = id
	}
	if data, ok := xm.Values[fieldData].(string); ok {
		msg.Data = []byte(data)
	}
	if attrs, ok := xm.Values[fieldAttributes].(string); ok && attrs != "" {
		if err := json.Unmarshal([]byte(attrs), &msg.Attributes); err != nil {
			log.WithFields(map[string]interface{}{
				"id":    msg.ID,
				"error": err.Error(),
			}).Warn("Ignoring unreadable message attributes")
		}
	}
	return msg
}

func (b *RedisBus) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (b *RedisBus) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Health pings Redis
func (b *RedisBus) Health(ctx context.Context) error {
	if b.isClosed() {
		return ErrBusClosed
	}
	return redisclient.Health(ctx, b.client)
}

// Close stops subscriptions and closes the client
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	b.mu.Unlock()

	return b.client.Close()
}
