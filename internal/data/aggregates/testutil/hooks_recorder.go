package testutil

import (
	"sync"
	"time"

	"github.com/yungbote/clinical-mdr/internal/data/aggregates"
)

// HooksRecorder captures repository hook signals in tests. Safe for concurrent writers.
type HooksRecorder struct {
	mu sync.Mutex

	Operations []OperationEvent
	LockWaits  []string
	Conflicts  []string
	Retries    []string
}

type OperationEvent struct {
	Name     string
	Status   string
	Duration time.Duration
}

var _ aggregates.Hooks = (*HooksRecorder)(nil)

func (h *HooksRecorder) ObserveOperation(name, status string, dur time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Operations = append(h.Operations, OperationEvent{Name: name, Status: status, Duration: dur})
}

func (h *HooksRecorder) ObserveLockWait(family string, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LockWaits = append(h.LockWaits, family)
}

func (h *HooksRecorder) IncConflict(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Conflicts = append(h.Conflicts, name)
}

func (h *HooksRecorder) IncRetry(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Retries = append(h.Retries, name)
}

// StatusesOf returns the recorded statuses of operation name, in order.
func (h *HooksRecorder) StatusesOf(name string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, op := range h.Operations {
		if op.Name == name {
			out = append(out, op.Status)
		}
	}
	return out
}
