package testutil

import (
	"testing"
	"time"
)

func TestHooksRecorder_CapturesSignals(t *testing.T) {
	h := &HooksRecorder{}
	h.ObserveOperation("unit_definition.save", "success", 10*time.Millisecond)
	h.ObserveOperation("unit_definition.save", "conflict", time.Millisecond)
	h.ObserveLockWait("unit_definition", 2*time.Millisecond)
	h.IncConflict("unit_definition.save")
	h.IncRetry("unit_definition.save")

	if got := h.StatusesOf("unit_definition.save"); len(got) != 2 || got[0] != "success" || got[1] != "conflict" {
		t.Fatalf("unexpected statuses: %+v", got)
	}
	if len(h.LockWaits) != 1 || h.LockWaits[0] != "unit_definition" {
		t.Fatalf("unexpected lock waits: %+v", h.LockWaits)
	}
	if len(h.Conflicts) != 1 || len(h.Retries) != 1 {
		t.Fatalf("unexpected counters conflicts=%+v retries=%+v", h.Conflicts, h.Retries)
	}
}
