// Package parallel runs the row bands of a frame on a fixed set of
// goroutines.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// bandsPerWorker controls how finely Rows splits a frame. More bands than
// workers lets idle workers steal from slow ones.
const bandsPerWorker = 4

// Pool is a pool of goroutines with one queue per worker.
//
// Work is distributed round-robin. A worker whose queue is empty steals
// from the others before blocking on its own queue.
//
// Pool is safe for concurrent use.
type Pool struct {
	workers int
	queues  []chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewPool starts a pool with the given number of workers. If workers is 0
// or negative, GOMAXPROCS is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := max(workers*bandsPerWorker, 8)

	p := &Pool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), queueSize)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		select {
		case <-p.done:
			p.drain(own)
			return
		case work := <-own:
			work()
		default:
			if stolen := p.steal(id); stolen != nil {
				stolen()
				continue
			}
			select {
			case <-p.done:
				p.drain(own)
				return
			case work := <-own:
				work()
			}
		}
	}
}

func (p *Pool) drain(queue chan func()) {
	for {
		select {
		case work := <-queue:
			work()
		default:
			return
		}
	}
}

func (p *Pool) steal(id int) func() {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case work := <-p.queues[i]:
			return work
		default:
		}
	}
	return nil
}

// Run executes every function and waits for all of them. On a closed pool
// the work runs on the calling goroutine.
//
// A panic in one function does not stop the others. After all of them have
// returned, Run re-panics on the calling goroutine with the first value
// recovered.
func (p *Pool) Run(work []func()) {
	if len(work) == 0 {
		return
	}
	if !p.running.Load() {
		for _, fn := range work {
			fn()
		}
		return
	}

	var (
		wg       sync.WaitGroup
		once     sync.Once
		panicked any
	)
	wg.Add(len(work))
	for i, fn := range work {
		wrapped := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					once.Do(func() { panicked = r })
				}
			}()
			fn()
		}
		select {
		case p.queues[i%p.workers] <- wrapped:
		case <-p.done:
			wrapped()
		}
	}
	wg.Wait()
	if panicked != nil {
		panic(panicked)
	}
}

// Rows splits the half-open row range [0, n) into contiguous bands and
// calls fn once per band in parallel. It returns when every band is done.
func (p *Pool) Rows(n int, fn func(lo, hi int)) {
	bands := p.Bands(n)
	if bands == 0 {
		return
	}
	height := (n + bands - 1) / bands
	work := make([]func(), 0, bands)
	for lo := 0; lo < n; lo += height {
		hi := min(lo+height, n)
		work = append(work, func() { fn(lo, hi) })
	}
	p.Run(work)
}

// Bands returns the number of bands Rows uses for n rows.
func (p *Pool) Bands(n int) int {
	if n <= 0 {
		return 0
	}
	return min(n, p.workers*bandsPerWorker)
}

// Close stops the pool after the queued work has run. It is safe to call
// more than once.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers.
func (p *Pool) Workers() int {
	return p.workers
}

// IsRunning reports whether the pool accepts work.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}
