/*
=================================================================================
DELIVERY WORKER POOL
=================================================================================

A fixed set of worker goroutines draining a shared task queue. The spike
scheduler fans the contents of each time slice out across this pool, so one
slow delivery never stalls the advancement loop and independent deliveries
run genuinely in parallel.

DESIGN PRINCIPLES:
1. Tasks are independent: the pool guarantees no ordering between them.
2. Submission is safe from any number of producer goroutines.
3. A panicking task is contained: the panic is captured on the task's
   handle and the worker keeps serving the queue.
4. Close stops intake, lets everything already queued run to completion,
   and joins the workers.
=================================================================================
*/

package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrPoolClosed is reported on handles for tasks submitted after Close.
var ErrPoolClosed = errors.New("worker pool is closed")

// DEFAULT_QUEUE_CAPACITY bounds the task backlog. The scheduler submits at
// most one slice of events between advancement steps, so a few thousand
// slots of headroom absorbs bursts without unbounded memory growth.
const DEFAULT_QUEUE_CAPACITY = 4096

// TaskHandle tracks a single submitted task. Wait blocks until the task has
// run (or was rejected); Err reports a captured panic or rejection.
type TaskHandle struct {
	done chan struct{}
	err  error // written once, before done is closed
}

// Wait blocks until the task has completed.
func (h *TaskHandle) Wait() {
	<-h.done
}

// Err returns the task's failure after completion: nil on success, the
// recovered panic wrapped as an error, or ErrPoolClosed for rejected tasks.
// Err implicitly waits.
func (h *TaskHandle) Err() error {
	<-h.done
	return h.err
}

// Pool executes submitted tasks across a fixed set of worker goroutines.
type Pool struct {
	tasks  chan *boundTask
	logger *zap.Logger
	wg     sync.WaitGroup

	closeOnce sync.Once
	closed    atomic.Bool

	// Statistics (atomic for lock-free reads)
	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
}

type boundTask struct {
	fn     func()
	handle *TaskHandle
}

// New creates a pool with nWorkers worker goroutines. A nil logger
// disables logging. nWorkers below 1 is raised to 1.
func New(nWorkers int, logger *zap.Logger) *Pool {
	if nWorkers < 1 {
		nWorkers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		tasks:  make(chan *boundTask, DEFAULT_QUEUE_CAPACITY),
		logger: logger,
	}

	p.wg.Add(nWorkers)
	for i := 0; i < nWorkers; i++ {
		go p.worker(i)
	}

	logger.Debug("worker pool started", zap.Int("workers", nWorkers))
	return p
}

// Submit hands a task to the pool and returns its handle. Blocks only when
// the backlog is full. After Close, the task is rejected and the handle
// completes immediately with ErrPoolClosed.
func (p *Pool) Submit(task func()) *TaskHandle {
	h := &TaskHandle{done: make(chan struct{})}

	if task == nil || p.closed.Load() {
		if task == nil {
			h.err = errors.New("nil task")
		} else {
			h.err = ErrPoolClosed
		}
		close(h.done)
		return h
	}

	p.submitted.Add(1)

	// Close marks the closed flag before closing the channel, so a send can
	// still race a concurrent Close. The send is isolated so that the
	// resulting panic converts into a rejection instead of stranding the
	// caller.
	if !p.trySend(&boundTask{fn: task, handle: h}) {
		h.err = ErrPoolClosed
		close(h.done)
	}
	return h
}

// trySend performs the queue send, absorbing the panic of a send on the
// closed channel.
func (p *Pool) trySend(bt *boundTask) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	p.tasks <- bt
	return true
}

// Close stops accepting tasks, waits for the backlog to drain, and joins
// all workers. Safe to call more than once.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.tasks)
		p.wg.Wait()
		p.logger.Debug("worker pool drained and stopped",
			zap.Int64("completed", p.completed.Load()),
			zap.Int64("panicked", p.panicked.Load()))
	})
}

// worker is the main loop of a single delivery goroutine. It exits when the
// task channel is closed and drained.
func (p *Pool) worker(idx int) {
	defer p.wg.Done()
	for bt := range p.tasks {
		p.runOne(idx, bt)
	}
}

// runOne executes one task with panic containment.
func (p *Pool) runOne(idx int, bt *boundTask) {
	defer func() {
		if r := recover(); r != nil {
			bt.handle.err = fmt.Errorf("task panic: %v", r)
			p.panicked.Add(1)
			p.logger.Error("worker task panicked",
				zap.Int("worker", idx), zap.Any("panic", r))
		}
		p.completed.Add(1)
		close(bt.handle.done)
	}()
	bt.fn()
}

// SubmittedCount reports the number of tasks accepted for execution.
func (p *Pool) SubmittedCount() int64 { return p.submitted.Load() }

// CompletedCount reports the number of tasks that have finished running,
// whether they succeeded or panicked.
func (p *Pool) CompletedCount() int64 { return p.completed.Load() }

// PanicCount reports how many tasks terminated with a recovered panic.
func (p *Pool) PanicCount() int64 { return p.panicked.Load() }
