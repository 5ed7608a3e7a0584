package eventbus

import (
	"context"
	"fmt"
	"os"
	"time"

	"storefront/internal/config"
	redisclient "storefront/internal/redis"
	"storefront/pkg/breaker"
	"storefront/pkg/log"
)

// New opens the driver selected by cfg.Driver
func New(ctx context.Context, cfg config.BusConfig, service string) (Bus, error) {
	switch cfg.Driver {
	case config.BusMemory, "":
		return NewMemoryBus(MemoryConfig{
			BufferSize:      cfg.Memory.BufferSize,
			MaxDeliveries:   cfg.MaxDeliveries,
			RedeliveryDelay: cfg.RedeliveryDelay,
		}), nil

	case config.BusRedis:
		// XREADGROUP blocks for up to Block, reads must outlast it
		client, err := redisclient.NewClient(ctx, redisclient.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.Block + 3*time.Second,
		})
		if err != nil {
			return nil, err
		}
		host, _ := os.Hostname()
		return NewRedisBus(client, RedisConfig{
			StreamPrefix:  cfg.Redis.StreamPrefix,
			BatchSize:     cfg.Redis.BatchSize,
			Block:         cfg.Redis.Block,
			ClaimMinIdle:  cfg.Redis.ClaimMinIdle,
			MaxDeliveries: cfg.MaxDeliveries,
			Consumer:      fmt.Sprintf("%s-%s-%d", service, host, os.Getpid()),
		}), nil

	case config.BusKafka:
		bus := NewKafkaBus(KafkaConfig{
			Brokers:         cfg.Kafka.Brokers,
			MaxWait:         cfg.Kafka.MaxWait,
			MaxDeliveries:   cfg.MaxDeliveries,
			RedeliveryDelay: cfg.RedeliveryDelay,
		})
		if err := bus.Health(ctx); err != nil {
			_ = bus.Close()
			return nil, err
		}
		return bus, nil

	case config.BusRabbitMQ:
		return NewRabbitMQBus(RabbitMQConfig{
			URL:             cfg.RabbitMQ.URL,
			Exchange:        cfg.RabbitMQ.Exchange,
			Prefetch:        cfg.RabbitMQ.Prefetch,
			MaxDeliveries:   cfg.MaxDeliveries,
			RedeliveryDelay: cfg.RedeliveryDelay,
		})

	default:
		return nil, fmt.Errorf("unsupported bus driver: %q", cfg.Driver)
	}
}

// NewBreakerManager builds the publish breakers from configuration; nil when disabled
func NewBreakerManager(cfg config.CircuitBreakConfig) *breaker.Manager {
	if !cfg.Enabled {
		return nil
	}
	return breaker.NewManager(breaker.Config{
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		FailureRatio: cfg.FailureRatio,
		MinRequests:  cfg.MinRequestCount,
		OnStateChange: func(name string, from, to breaker.State) {
			log.WithFields(map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
}
