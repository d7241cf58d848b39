// Package workerpool runs short jobs on a fixed number of goroutines.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/vramcodec/internal/logging"
)

var log = logging.L("workerpool")

// Task is a unit of work. ctx is cancelled once Drain gives up waiting.
type Task func(ctx context.Context)

// Pool is a bounded goroutine pool with a fixed-size task queue.
type Pool struct {
	queue     chan Task
	wg        sync.WaitGroup
	accepting atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

// New starts maxWorkers goroutines reading from a queue of queueSize.
func New(maxWorkers, queueSize int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:  make(chan Task, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.accepting.Store(true)

	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}
	log.Debug("worker pool started", "workers", maxWorkers, "queueSize", queueSize)
	return p
}

// SubmitWait enqueues task, waiting for queue space until ctx is done.
func (p *Pool) SubmitWait(ctx context.Context, task Task) error {
	if !p.accepting.Load() {
		return context.Canceled
	}
	p.wg.Add(1)
	select {
	case p.queue <- task:
		return nil
	case <-ctx.Done():
		p.wg.Done()
		return ctx.Err()
	case <-p.ctx.Done():
		p.wg.Done()
		return p.ctx.Err()
	}
}

// StopAccepting rejects further submissions.
func (p *Pool) StopAccepting() {
	p.accepting.Store(false)
}

// Drain waits for queued and running tasks until ctx is done, then cancels
// the pool context and releases the workers. Drain implies StopAccepting.
func (p *Pool) Drain(ctx context.Context) {
	p.StopAccepting()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug("worker pool drained")
	case <-ctx.Done():
		log.Warn("worker pool drain timed out")
	}

	p.stopOnce.Do(p.cancel)
	p.closeOnce.Do(func() { close(p.queue) })
}

// Shutdown is StopAccepting followed by Drain.
func (p *Pool) Shutdown(ctx context.Context) {
	p.StopAccepting()
	p.Drain(ctx)
}

func (p *Pool) worker() {
	for task := range p.queue {
		p.runTask(task)
	}
}

// runTask recovers panics so one bad task cannot kill a worker.
func (p *Pool) runTask(task Task) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task(p.ctx)
}
