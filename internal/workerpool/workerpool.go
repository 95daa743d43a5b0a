// Package workerpool implements propd's fixed-size worker pool: a
// bounded circular task queue guarded by a mutex plus not-empty/not-full
// condition variables, N long-lived workers, and a Submit that can block
// for the task's result. Grounded on
// original_source/lib/infra/thread_pool.c/.h.
package workerpool

import (
	"context"
	"runtime"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"github.com/sirupsen/logrus"
)

// Task is a unit of work submitted to the pool. It returns an error the
// way the original's routine returns an int result.
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	task Task
	done chan error // nil for async submissions
}

// Pool is a bounded queue of jobs served by a fixed worker goroutine
// set, mirroring thread_pool_t's fixed thread count and circular
// task_queue_t.
type Pool struct {
	log *logrus.Entry

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	queue    []job
	head     int
	count    int
	closed   bool

	wg sync.WaitGroup
}

// clamp mirrors thread_pool_create's "0 means auto, clamp to
// [minIfAuto, maxIfAuto] against NumCPU" sizing rule.
func clamp(want, minIfAuto, maxIfAuto int) int {
	if want > 0 {
		return want
	}
	ncpu := runtime.NumCPU()
	switch {
	case ncpu < minIfAuto:
		return minIfAuto
	case ncpu > maxIfAuto:
		return maxIfAuto
	default:
		return ncpu
	}
}

// New creates a pool with threadNum workers (0 selects automatically
// via clamp(NumCPU, minIfAuto, maxIfAuto)) and a queue depth of taskNum
// (0 defaults to the resolved thread count).
func New(threadNum, minIfAuto, maxIfAuto, taskNum int, log *logrus.Entry) *Pool {
	if log == nil {
		log = logrus.WithField("component", "workerpool")
	}
	workers := clamp(threadNum, minIfAuto, maxIfAuto)
	depth := taskNum
	if depth == 0 {
		depth = workers
	}

	p := &Pool{
		log:   log.WithField("workers", workers).WithField("depth", depth),
		queue: make([]job, depth),
	}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info("worker pool started")
	return p
}

func (p *Pool) push(j job) {
	p.mu.Lock()
	for p.count >= len(p.queue) && !p.closed {
		p.notFull.Wait()
	}
	if p.closed {
		p.mu.Unlock()
		if j.done != nil {
			j.done <- context.Canceled
		}
		return
	}
	tail := (p.head + p.count) % len(p.queue)
	p.queue[tail] = j
	p.count++
	p.notEmpty.Signal()
	p.mu.Unlock()
}

func (p *Pool) pop() (job, bool) {
	p.mu.Lock()
	for p.count == 0 && !p.closed {
		p.notEmpty.Wait()
	}
	if p.count == 0 && p.closed {
		p.mu.Unlock()
		return job{}, false
	}
	j := p.queue[p.head]
	p.queue[p.head] = job{}
	p.head = (p.head + 1) % len(p.queue)
	p.count--
	p.notFull.Signal()
	p.mu.Unlock()
	return j, true
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		j, ok := p.pop()
		if !ok {
			return
		}
		err := p.run(j)
		if j.done != nil {
			j.done <- err
		}
	}
}

// run executes one task, containing any panic the way the original
// wraps the routine call with assert-free error propagation instead of
// letting a handler crash the whole process.
func (p *Pool) run(j job) (err error) {
	var pc panics.Catcher
	pc.Try(func() {
		err = j.task(j.ctx)
	})
	if recovered := pc.Recovered(); recovered != nil {
		p.log.WithField("panic", recovered.String()).Error("worker task panicked")
		return recovered.AsError()
	}
	return err
}

// Submit enqueues task, blocking if the queue is full (not-full
// condition). When sync is true, Submit blocks until the task runs and
// returns its error; otherwise it returns nil immediately after
// enqueueing.
func (p *Pool) Submit(ctx context.Context, task Task, sync bool) error {
	j := job{ctx: ctx, task: task}
	if sync {
		j.done = make(chan error, 1)
	}
	p.push(j)
	if sync {
		return <-j.done
	}
	return nil
}

// Close stops accepting new work, wakes any blocked push/pop waiters,
// and waits for in-flight and queued tasks to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.notEmpty.Broadcast()
	p.notFull.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}
