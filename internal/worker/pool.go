// Package worker executes job attempts under a bounded concurrency cap.
package worker

import "sync"

// Pool bounds how many attempts run at once. The scheduler reserves a
// slot with TryAcquire before doing any state change, so a full pool
// never strands a job mid-promotion.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// TryAcquire reserves one execution slot without blocking.
func (p *Pool) TryAcquire() bool {
	select {
	case p.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns an unused slot reserved with TryAcquire.
func (p *Pool) Release() { <-p.sem }

// Go runs f on a reserved slot and releases it when f returns. The caller
// must have a successful TryAcquire outstanding.
func (p *Pool) Go(f func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		f()
	}()
}

// Wait blocks until every running attempt has finished.
func (p *Pool) Wait() { p.wg.Wait() }
