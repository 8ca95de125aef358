package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
)

// EventBus fans lifecycle events out over a Redis pub/sub channel. The client
// is borrowed; Close only ends the bus's own subscriptions.
type EventBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string

	mu   sync.Mutex
	subs []*goredis.PubSub
}

func NewEventBus(rdb *goredis.Client, channel string, log *logger.Logger) (*EventBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if channel == "" {
		channel = "mdr.lifecycle"
	}
	return &EventBus{log: log.With("service", "RedisEventBus"), rdb: rdb, channel: channel}, nil
}

func (b *EventBus) Publish(ctx context.Context, ev domainagg.LifecycleEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis event bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes and calls onEvent for every event until ctx is done.
func (b *EventBus) StartForwarder(ctx context.Context, onEvent func(ev domainagg.LifecycleEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis event bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var ev domainagg.LifecycleEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad lifecycle event payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}

func (b *EventBus) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
