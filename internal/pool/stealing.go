package pool

import (
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// StealingPool wraps an ants goroutine pool, giving the work-stealing
// strategy the Rust source delegates to rayon for.
type StealingPool struct {
	inner *ants.Pool
	wg    sync.WaitGroup
}

func NewStealingPool(numWorkers int) (*StealingPool, error) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	p, err := ants.NewPool(numWorkers, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("pool: create stealing pool: %w", err)
	}
	return &StealingPool{inner: p}, nil
}

func (p *StealingPool) Submit(job func()) {
	p.wg.Add(1)
	// Submit only returns an error when the pool has already been
	// released, which never happens before Close.
	if err := p.inner.Submit(func() {
		defer p.wg.Done()
		job()
	}); err != nil {
		p.wg.Done()
	}
}

func (p *StealingPool) Close() {
	p.wg.Wait()
	p.inner.Release()
}
