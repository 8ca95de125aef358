package services

import (
	"context"

	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
)

// EventPublisher receives lifecycle events after the write that produced them
// has committed. Publish failures never undo the write.
type EventPublisher interface {
	Publish(ctx context.Context, ev domainagg.LifecycleEvent) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domainagg.LifecycleEvent) error { return nil }
