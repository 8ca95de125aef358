package app

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/clinical-mdr/internal/data/aggregates"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
	"github.com/yungbote/clinical-mdr/internal/platform/redis"
	"github.com/yungbote/clinical-mdr/internal/services"
)

type Clients struct {
	Redis     *goredis.Client
	Locker    aggregates.Locker
	EventBus  *redis.EventBus
	Publisher services.EventPublisher
}

// wireClients connects Redis when REDIS_ADDR is set. Without it locks stay
// in-process and lifecycle events are dropped.
func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	if cfg.RedisAddr == "" {
		log.Warn("REDIS_ADDR not set; using in-process locks and no event bus")
		return Clients{Locker: aggregates.NewKeyedLocker(), Publisher: services.NopPublisher{}}, nil
	}
	rdb, err := redis.NewClient(redis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return Clients{}, fmt.Errorf("init redis: %w", err)
	}
	bus, err := redis.NewEventBus(rdb, cfg.RedisChannel, log)
	if err != nil {
		_ = rdb.Close()
		return Clients{}, fmt.Errorf("init event bus: %w", err)
	}
	log.Info("connected to redis", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel)
	return Clients{
		Redis:     rdb,
		Locker:    redis.NewLocker(rdb, cfg.LockTTL, log),
		EventBus:  bus,
		Publisher: bus,
	}, nil
}

func (c Clients) pinger() func(ctx context.Context) error {
	if c.Redis == nil {
		return nil
	}
	return func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() }
}

// Close ends the bus subscriptions before closing the client they borrow.
func (c Clients) Close() error {
	var errs []error
	if c.EventBus != nil {
		if err := c.EventBus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event bus: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
