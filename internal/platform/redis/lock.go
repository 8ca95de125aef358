package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/clinical-mdr/internal/platform/logger"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another writer is never released by us.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a distributed per-key lock built on SET NX PX.
type Locker struct {
	rdb        *goredis.Client
	log        *logger.Logger
	ttl        time.Duration
	retryEvery time.Duration
}

func NewLocker(rdb *goredis.Client, ttl time.Duration, log *logger.Logger) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{
		rdb:        rdb,
		log:        log.With("service", "RedisLocker"),
		ttl:        ttl,
		retryEvery: 25 * time.Millisecond,
	}
}

func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil || l.rdb == nil {
		return nil, fmt.Errorf("redis locker not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("lock key is required")
	}
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryEvery)
	defer ticker.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.rdb, []string{key}, token).Err(); err != nil {
				l.log.Warn("redis lock release failed", "key", key, "error", err)
			}
		})
	}, nil
}
