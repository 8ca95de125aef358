package aggregates

import (
	"strings"
	"time"

	"github.com/yungbote/clinical-mdr/internal/observability"
)

// Hooks receives repository-level signals: write outcomes, optimistic
// conflicts, retryable storage failures and time spent waiting for the
// per-aggregate lock.
type Hooks interface {
	ObserveOperation(name, status string, dur time.Duration)
	ObserveLockWait(family string, dur time.Duration)
	IncConflict(name string)
	IncRetry(name string)
}

type noopHooks struct{}

func (noopHooks) ObserveOperation(string, string, time.Duration) {}
func (noopHooks) ObserveLockWait(string, time.Duration)          {}
func (noopHooks) IncConflict(string)                             {}
func (noopHooks) IncRetry(string)                                {}

// metricsHooks forwards hook signals to the Prometheus collectors.
type metricsHooks struct {
	m *observability.Metrics
}

// NewMetricsHooks returns Hooks that record into m; a nil m yields no-op hooks.
func NewMetricsHooks(m *observability.Metrics) Hooks {
	if m == nil {
		return noopHooks{}
	}
	return metricsHooks{m: m}
}

func (h metricsHooks) ObserveOperation(name, status string, dur time.Duration) {
	h.m.ObserveAggregateOperation(strings.TrimSpace(name), strings.TrimSpace(status), dur)
}

func (h metricsHooks) ObserveLockWait(family string, dur time.Duration) {
	h.m.ObserveLockWait(strings.TrimSpace(family), dur)
}

func (h metricsHooks) IncConflict(name string) { h.m.IncAggregateConflict(strings.TrimSpace(name)) }
func (h metricsHooks) IncRetry(name string)    { h.m.IncAggregateRetry(strings.TrimSpace(name)) }
