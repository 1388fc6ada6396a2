// Package workerpool runs submitted tasks on a fixed set of goroutines fed by
// a bounded queue. Submission never blocks: a full queue is reported to the
// caller as ErrSaturated.
package workerpool

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/aysihuniks/nhook/internal/logging"
	"github.com/aysihuniks/nhook/internal/metrics"
)

var (
	// ErrSaturated is returned by Submit when the queue is full.
	ErrSaturated = errors.New("worker pool saturated")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("worker pool stopped")
)

// Config configures the pool.
type Config struct {
	Workers   int
	QueueSize int
}

// Pool is a bounded worker pool.
type Pool struct {
	cfg     Config
	tasks   chan func()
	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup

	running atomic.Int64
	done    atomic.Int64
	dropped atomic.Int64
}

// New creates a pool. Tasks submitted before Start wait in the queue.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	return &Pool{
		cfg:   cfg,
		tasks: make(chan func(), cfg.QueueSize),
	}
}

// Start launches worker goroutines.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	logging.Op().Info("query workers started", "workers", p.cfg.Workers, "queue_size", p.cfg.QueueSize)
}

// Stop refuses new tasks, lets the workers drain the queue and waits for
// them to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	started := p.started
	p.mu.Unlock()

	if !started {
		// Nobody will drain the queue; run what is left inline.
		for task := range p.tasks {
			p.run(task)
		}
		return
	}
	p.wg.Wait()
	logging.Op().Info("query workers stopped", "completed", p.done.Load())
}

// Submit enqueues task without blocking.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.tasks <- task:
		metrics.SetQueueDepth(len(p.tasks))
		return nil
	default:
		p.dropped.Add(1)
		metrics.RecordRejected("saturated")
		return ErrSaturated
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		metrics.SetQueueDepth(len(p.tasks))
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	p.running.Add(1)
	defer func() {
		p.running.Add(-1)
		p.done.Add(1)
		if r := recover(); r != nil {
			logging.Op().Error("query worker task panicked", "panic", r)
		}
	}()
	task()
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers   int   `json:"workers"`
	QueueSize int   `json:"queue_size"`
	Queued    int   `json:"queued"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.cfg.Workers,
		QueueSize: p.cfg.QueueSize,
		Queued:    len(p.tasks),
		Running:   p.running.Load(),
		Completed: p.done.Load(),
		Rejected:  p.dropped.Load(),
	}
}
