package testutil

import (
	"context"
	"sync"

	"github.com/yungbote/clinical-mdr/internal/data/aggregates"
)

// InjectedTxRunner wraps a ChainStore and injects failures around the body of
// a transaction. A failure after the body still rolls the store back.
type InjectedTxRunner struct {
	Store aggregates.ChainStore

	mu sync.Mutex

	FailBegin      error
	FailBeforeBody error
	FailCommit     error

	BeginCalls    int
	CommitCalls   int
	RollbackCalls int
}

var _ aggregates.TxRunner = (*InjectedTxRunner)(nil)

func (r *InjectedTxRunner) InTx(ctx context.Context, fn func(tx aggregates.ChainTx) error) error {
	r.mu.Lock()
	r.BeginCalls++
	failBegin, failBeforeBody, failCommit := r.FailBegin, r.FailBeforeBody, r.FailCommit
	r.mu.Unlock()

	if failBegin != nil {
		return failBegin
	}
	if failBeforeBody != nil {
		r.count(&r.RollbackCalls)
		return failBeforeBody
	}

	run := func(tx aggregates.ChainTx) error {
		if fn != nil {
			if err := fn(tx); err != nil {
				return err
			}
		}
		return failCommit
	}
	var err error
	if r.Store != nil {
		err = r.Store.InTx(ctx, run)
	} else {
		err = run(nil)
	}
	if err != nil {
		r.count(&r.RollbackCalls)
		return err
	}
	r.count(&r.CommitCalls)
	return nil
}

func (r *InjectedTxRunner) count(c *int) {
	r.mu.Lock()
	*c++
	r.mu.Unlock()
}
