// Package workerpool runs short background tasks on a bounded set of goroutines.
//
// Workers are spawned on demand up to the configured maximum and exit as soon as the
// queue is empty, so an idle pool holds no goroutines.
package workerpool

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// DefaultMaxWorkers is the upper bound used when New is given a non-positive size.
const DefaultMaxWorkers = 8

// Pool is a bounded FIFO task runner. The zero value is not usable; call New.
type Pool struct {
	name       string
	maxWorkers int

	mu      sync.Mutex
	queue   []func()
	active  int
	pending sync.WaitGroup // queued and running tasks
	workers sync.WaitGroup // live worker goroutines
}

// New returns a pool that runs at most maxWorkers tasks concurrently.
func New(name string, maxWorkers int) *Pool {
	if maxWorkers <= 0 {
		slog.Debug("worker pool size out of range, using default",
			"pool", name, "value", maxWorkers, "default", DefaultMaxWorkers)
		maxWorkers = DefaultMaxWorkers
	}
	return &Pool{name: name, maxWorkers: maxWorkers}
}

// Submit queues fn. It never blocks on fn itself.
func (p *Pool) Submit(fn func()) {
	if fn == nil {
		return
	}
	p.pending.Add(1)

	p.mu.Lock()
	p.queue = append(p.queue, fn)
	spawn := p.active < p.maxWorkers
	if spawn {
		p.active++
	}
	p.mu.Unlock()

	if spawn {
		p.workers.Add(1)
		go p.work()
	}
}

// Wait blocks until every submitted task has finished and the workers that ran them have
// exited.
func (p *Pool) Wait() {
	p.pending.Wait()
	p.workers.Wait()
}

// Size returns the maximum number of concurrent workers.
func (p *Pool) Size() int {
	return p.maxWorkers
}

// Active reports the number of live worker goroutines.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Pool) work() {
	defer p.workers.Done()
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.active--
			p.mu.Unlock()
			return
		}
		fn := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.run(fn)
	}
}

// run executes a single task. A panicking task is logged and dropped; the worker keeps going.
func (p *Pool) run(fn func()) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("background task recovered from panic",
				"pool", p.name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}
