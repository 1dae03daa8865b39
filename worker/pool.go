package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Submit after Close has been called.
var ErrClosed = errors.New("worker pool is closed")

// ErrBusy is returned by TrySubmit when every slot is taken.
var ErrBusy = errors.New("worker pool is busy")

// Task is a unit of background work.
type Task func(ctx context.Context) error

// Result describes a finished task. Results are only logged.
type Result struct {
	Label   string
	Err     error
	Elapsed time.Duration
}

// Pool runs tasks in goroutines, at most limit at a time. Each task gets a
// context detached from the submitter's but bounded by the pool timeout, so
// work outlives the inbound request without ever being left unbounded.
type Pool struct {
	name    string
	sem     *semaphore.Weighted
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	results chan Result
	drained chan struct{}
}

// New creates a pool and starts its result logger.
func New(name string, limit int64, timeout time.Duration) *Pool {
	if limit <= 0 {
		limit = 1
	}
	p := &Pool{
		name:    name,
		sem:     semaphore.NewWeighted(limit),
		timeout: timeout,
		results: make(chan Result, limit),
		drained: make(chan struct{}),
	}
	go p.drain()
	return p
}

// Submit waits for a free slot (bounded by ctx) and starts task in the
// background. It does not wait for the task to finish.
func (p *Pool) Submit(ctx context.Context, label string, task Task) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire %s worker for %s: %w", p.name, label, err)
	}
	return p.start(ctx, label, task)
}

// TrySubmit starts task only if a slot is free right now and returns ErrBusy
// otherwise.
func (p *Pool) TrySubmit(ctx context.Context, label string, task Task) error {
	if !p.sem.TryAcquire(1) {
		return ErrBusy
	}
	return p.start(ctx, label, task)
}

// start runs task on a slot the caller already holds.
func (p *Pool) start(ctx context.Context, label string, task Task) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.sem.Release(1)
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer cancel()

		start := time.Now()
		err := runSafely(taskCtx, task)
		p.results <- Result{Label: label, Err: err, Elapsed: time.Since(start)}
	}()
	return nil
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close rejects new work, waits for in-flight tasks and stops the logger.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	close(p.results)
	<-p.drained
}

func (p *Pool) drain() {
	defer close(p.drained)
	for res := range p.results {
		entry := log.WithFields(log.Fields{
			"pool":    p.name,
			"task":    res.Label,
			"elapsed": res.Elapsed.Round(time.Millisecond),
		})
		if res.Err != nil {
			entry.WithError(res.Err).Warn("background task failed")
			continue
		}
		entry.Debug("background task finished")
	}
}

func runSafely(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return task(ctx)
}
