// Package workers provides a bounded goroutine pool for parallel
// optimization runs.
package workers

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrPoolStopped is returned when submitting to a stopped pool.
	ErrPoolStopped = errors.New("workers: pool stopped")
	// ErrQueueFull is returned when the task queue is at capacity.
	ErrQueueFull = errors.New("workers: queue full")
)

// Task is a unit of work.
type Task interface {
	Execute() error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func() error

// Execute runs the function.
func (f TaskFunc) Execute() error { return f() }

// PanicError wraps a recovered panic as a task failure.
type PanicError struct {
	Recovered any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("workers: task panicked: %v", e.Recovered)
}

// Config sizes the pool.
type Config struct {
	Name       string
	NumWorkers int
	QueueSize  int
}

// DefaultConfig returns one worker per CPU with a generous queue.
func DefaultConfig(name string) Config {
	return Config{
		Name:       name,
		NumWorkers: runtime.NumCPU(),
		QueueSize:  4096,
	}
}

// Stats is a snapshot of the pool's counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Recovered int64 `json:"recovered"`
}

// Pool fans tasks out over a fixed set of workers. A panicking task is
// recovered and counted as failed; it never takes a worker down.
type Pool struct {
	logger *zap.Logger
	cfg    Config

	tasks   chan Task
	running atomic.Bool

	inflight sync.WaitGroup // queued plus executing tasks
	workers  sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	recovered atomic.Int64
}

// NewPool creates a pool; call Start before submitting.
func NewPool(logger *zap.Logger, cfg Config) *Pool {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = runtime.NumCPU()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	return &Pool{
		logger: logger.Named("workers"),
		cfg:    cfg,
		tasks:  make(chan Task, cfg.QueueSize),
	}
}

// Start launches the workers. Starting a running pool is a no-op.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}
	p.logger.Info("starting worker pool",
		zap.String("name", p.cfg.Name),
		zap.Int("workers", p.cfg.NumWorkers),
		zap.Int("queueSize", p.cfg.QueueSize),
	)
	for i := 0; i < p.cfg.NumWorkers; i++ {
		p.workers.Add(1)
		go p.run(i)
	}
}

func (p *Pool) run(id int) {
	defer p.workers.Done()
	for task := range p.tasks {
		p.execute(id, task)
		p.inflight.Done()
	}
}

func (p *Pool) execute(id int, task Task) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.recovered.Add(1)
				p.logger.Error("task panicked",
					zap.Int("worker", id),
					zap.Any("panic", r),
				)
				err = &PanicError{Recovered: r}
			}
		}()
		err = task.Execute()
	}()

	if err != nil {
		p.failed.Add(1)
		p.logger.Debug("task failed", zap.Int("worker", id), zap.Error(err))
		return
	}
	p.completed.Add(1)
}

// Submit enqueues a task without blocking.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	p.inflight.Add(1)
	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.inflight.Done()
		return ErrQueueFull
	}
}

// SubmitFunc enqueues a function as a task.
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// Wait blocks until every submitted task has finished. Submissions may
// continue afterwards; Wait only drains what was queued before the call
// returns.
func (p *Pool) Wait() {
	p.inflight.Wait()
}

// Stop drains the queue and stops the workers. Stopping a stopped pool
// is a no-op.
func (p *Pool) Stop() {
	if !p.running.Swap(false) {
		return
	}
	close(p.tasks)
	p.workers.Wait()
	stats := p.Snapshot()
	p.logger.Info("worker pool stopped",
		zap.String("name", p.cfg.Name),
		zap.Int64("completed", stats.Completed),
		zap.Int64("failed", stats.Failed),
	)
}

// Snapshot returns the current counters.
func (p *Pool) Snapshot() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Recovered: p.recovered.Load(),
	}
}
