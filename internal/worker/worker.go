// Package worker dispatches pending runs to a bounded pool of executors.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/everping/everping/internal/engine"
	"github.com/everping/everping/internal/logger"
	"github.com/everping/everping/internal/store"
)

// pollInterval is how often the dispatcher looks for pending runs.
const pollInterval = 500 * time.Millisecond

// Pool polls the run queue and executes claimed runs with bounded
// concurrency. The dispatcher never blocks on pool capacity: runs that
// find no free slot simply stay pending until a later poll.
type Pool struct {
	store      *store.Store
	engine     *engine.Engine
	maxWorkers int

	slots   chan struct{}
	stopCh  chan struct{}
	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a pool with maxWorkers concurrent execution slots.
func New(st *store.Store, eng *engine.Engine, maxWorkers int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Pool{
		store:      st,
		engine:     eng,
		maxWorkers: maxWorkers,
		slots:      make(chan struct{}, maxWorkers),
		stopCh:     make(chan struct{}),
	}
}

// Start runs the dispatcher loop until Stop or context cancellation.
func (p *Pool) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	logger.Info(ctx, "worker pool started", "workers", p.maxWorkers)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.dispatch(ctx)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts dispatching and waits for in-flight runs to finish. Runs that
// are already executing keep running to completion.
func (p *Pool) Stop(ctx context.Context) {
	if p.running.CompareAndSwap(true, false) {
		close(p.stopCh)
	}
	logger.Info(ctx, "worker pool draining")
	p.wg.Wait()
	logger.Info(ctx, "worker pool stopped")
}

// dispatch hands a batch of pending runs to free slots.
func (p *Pool) dispatch(ctx context.Context) {
	ids, err := p.store.ListPendingRunIDs(ctx, p.maxWorkers)
	if err != nil {
		logger.Error(ctx, "failed to list pending runs", "err", err)
		return
	}

	for _, id := range ids {
		select {
		case p.slots <- struct{}{}:
		default:
			// Pool saturated; the rest stay pending for the next poll.
			return
		}

		p.wg.Add(1)
		// Shutdown must not cancel a run mid-flight.
		runCtx := context.WithoutCancel(ctx)
		go func(runID int64) {
			defer p.wg.Done()
			defer func() { <-p.slots }()
			p.engine.ExecuteRun(runCtx, runID)
		}(id)
	}
}
