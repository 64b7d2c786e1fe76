package pool

import "sync"

// NaivePool spawns a fresh goroutine per job, the thread-per-request
// strategy: simplest, no reuse, unbounded concurrency.
type NaivePool struct {
	wg sync.WaitGroup
}

func NewNaivePool() *NaivePool { return &NaivePool{} }

func (p *NaivePool) Submit(job func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		job()
	}()
}

func (p *NaivePool) Close() { p.wg.Wait() }
