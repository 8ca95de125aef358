package aggregates

import (
	"context"
	"strings"
	"sync"
)

// Locker provides per-aggregate mutual exclusion across concurrent writers.
// Acquire blocks until the key is free or ctx is done; release is idempotent.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LockKey namespaces a uid by entity family.
func LockKey(family, uid string) string {
	return "mdr:lock:" + strings.TrimSpace(family) + ":" + strings.TrimSpace(uid)
}

// KeyedLocker is an in-process Locker. Each key owns a one-slot channel, so
// waiting honours context cancellation.
type KeyedLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{slots: map[string]*lockSlot{}}
}

func (l *KeyedLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if strings.TrimSpace(key) == "" {
		return nil, ValidationError("lock key is required")
	}
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.unref(key, slot)
		})
	}, nil
}

func (l *KeyedLocker) unref(key string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

type noopLocker struct{}

func (noopLocker) Acquire(context.Context, string) (func(), error) { return func() {}, nil }
