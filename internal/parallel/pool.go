// Package parallel splits pixel work of one filter application across a
// shared pool of goroutines.
//
// The scheduler of the engine runs a single filter at a time; inside that
// filter, rows are independent and are processed in bands on the pool.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// MinRows is the smallest band handed to a worker by Rows.
const MinRows = 32

// Pool is a pool of goroutines with one queue per worker. Workers steal
// from other queues when their own is empty, which balances bands that
// take different times.
//
// Pool is safe for concurrent use.
type Pool struct {
	workers    int
	workQueues []chan func()
	done       chan struct{}
	wg         sync.WaitGroup
	running    atomic.Bool
}

// NewPool starts a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := max(workers*4, 8)
	p := &Pool{
		workers:    workers,
		workQueues: make([]chan func(), workers),
		done:       make(chan struct{}),
	}
	for i := range workers {
		p.workQueues[i] = make(chan func(), queueSize)
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
	mine := p.workQueues[id]
	for {
		select {
		case <-p.done:
			p.drainQueue(mine)
			return
		case work := <-mine:
			work()
		default:
			if stolen := p.steal(id); stolen != nil {
				stolen()
				continue
			}
			select {
			case <-p.done:
				p.drainQueue(mine)
				return
			case work := <-mine:
				work()
			}
		}
	}
}

func (p *Pool) drainQueue(queue chan func()) {
	for {
		select {
		case work := <-queue:
			work()
		default:
			return
		}
	}
}

// steal takes one item from another worker's queue, or returns nil.
func (p *Pool) steal(self int) func() {
	for i := range p.workers {
		if i == self {
			continue
		}
		select {
		case work := <-p.workQueues[i]:
			return work
		default:
		}
	}
	return nil
}

// Run executes every work item and waits for all of them. After Close the
// items run on the calling goroutine.
func (p *Pool) Run(work []func()) {
	if len(work) == 0 {
		return
	}
	if len(work) == 1 || !p.running.Load() {
		for _, fn := range work {
			fn()
		}
		return
	}
	var wg sync.WaitGroup
	wg.Add(len(work))
	for i, fn := range work {
		wrapped := func() {
			defer wg.Done()
			fn()
		}
		select {
		case p.workQueues[i%p.workers] <- wrapped:
		case <-p.done:
			wrapped()
		}
	}
	wg.Wait()
}

// Rows splits [0, height) into bands of at least minRows rows, one per
// worker at most, and runs fn for each band on the pool.
func (p *Pool) Rows(height, minRows int, fn func(y0, y1 int)) {
	if height <= 0 {
		return
	}
	minRows = max(minRows, 1)
	bands := min(p.workers, (height+minRows-1)/minRows)
	if bands <= 1 {
		fn(0, height)
		return
	}
	step := (height + bands - 1) / bands
	work := make([]func(), 0, bands)
	for y := 0; y < height; y += step {
		y0, y1 := y, min(y+step, height)
		work = append(work, func() { fn(y0, y1) })
	}
	p.Run(work)
}

// Close stops the workers after the queued work has run. Close is safe to
// call more than once.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

var shared = sync.OnceValue(func() *Pool { return NewPool(0) })

// Rows runs fn over bands of [0, height) on the shared pool.
func Rows(height int, fn func(y0, y1 int)) {
	shared().Rows(height, MinRows, fn)
}
