package aggregates

import (
	"context"
	"strings"
	"time"

	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
)

const defaultLockTimeout = 5 * time.Second

type BaseDeps struct {
	Store       ChainStore
	Runner      TxRunner
	Log         *logger.Logger
	Hooks       Hooks
	Locker      Locker
	LockTimeout time.Duration
}

func (d BaseDeps) withDefaults() BaseDeps {
	if d.Runner == nil && d.Store != nil {
		d.Runner = d.Store
	}
	if d.Hooks == nil {
		d.Hooks = noopHooks{}
	}
	if d.Locker == nil {
		d.Locker = noopLocker{}
	}
	if d.LockTimeout <= 0 {
		d.LockTimeout = defaultLockTimeout
	}
	return d
}

func executeWrite(ctx context.Context, deps BaseDeps, op string, fn func(tx ChainTx) error) error {
	start := time.Now()
	deps = deps.withDefaults()
	op = normalizeOp(op, "aggregate.write")
	if deps.Runner == nil {
		return domainagg.NewError(domainagg.CodeInternal, op, "no transaction runner configured", nil)
	}
	err := deps.Runner.InTx(ctx, fn)
	return observe(deps, op, start, err)
}

func executeRead(ctx context.Context, deps BaseDeps, op string, fn func(tx ChainTx) error) error {
	start := time.Now()
	deps = deps.withDefaults()
	op = normalizeOp(op, "aggregate.read")
	if deps.Store == nil {
		return domainagg.NewError(domainagg.CodeInternal, op, "no chain store configured", nil)
	}
	err := deps.Store.View(ctx, fn)
	return observe(deps, op, start, err)
}

func observe(deps BaseDeps, op string, start time.Time, err error) error {
	mapped := MapError(op, err)

	status := "success"
	if mapped != nil {
		status = aggregateErrorStatus(mapped)
		if domainagg.IsCode(mapped, domainagg.CodeConflict) {
			deps.Hooks.IncConflict(op)
		}
		if domainagg.IsCode(mapped, domainagg.CodeRetryable) {
			deps.Hooks.IncRetry(op)
		}
		if deps.Log != nil && status != string(domainagg.CodeNotFound) {
			deps.Log.Debug("aggregate operation failed", "op", op, "status", status, "error", mapped.Error())
		}
	}
	deps.Hooks.ObserveOperation(op, status, time.Since(start))
	return mapped
}

func normalizeOp(op, fallback string) string {
	op = strings.TrimSpace(op)
	if op == "" {
		return fallback
	}
	return op
}

func aggregateErrorStatus(err error) string {
	if err == nil {
		return "success"
	}
	code := strings.TrimSpace(string(domainagg.CodeOf(err)))
	if code == "" {
		code = strings.TrimSpace(string(domainagg.CodeOf(MapError("aggregate.status", err))))
	}
	if code == "" {
		return "failure"
	}
	return code
}
