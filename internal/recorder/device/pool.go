package device

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// WorkerPool runs session start and stop requests with bounded
// concurrency. Go never blocks the caller.
type WorkerPool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewWorkerPool allows size tasks at once; size below 1 means 1.
func NewWorkerPool(size int) *WorkerPool {
	return &WorkerPool{sem: semaphore.NewWeighted(int64(max(size, 1)))}
}

// Go schedules fn.
func (p *WorkerPool) Go(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		fn()
	}()
}

// Wait blocks until every scheduled task returned.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
