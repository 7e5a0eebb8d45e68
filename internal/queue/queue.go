// Package queue runs transfer jobs one at a time on a single background
// worker, so operations sharing one peer connection never interleave.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sealbox/backend/internal/envelope"
	"github.com/sealbox/backend/internal/observability"
)

// ErrClosed is returned for jobs submitted after Close.
var ErrClosed = errors.New("queue closed")

// Job is one engine operation. It returns a status and error with the
// same meaning as the envelope.Dispatcher methods.
type Job func(ctx context.Context) (int32, error)

// Result is the outcome of a job.
type Result struct {
	Name     string
	Status   int32
	Err      error
	Duration time.Duration
}

// Code is the single status code for the result: the engine code on
// error, the peer status otherwise.
func (r Result) Code() int32 {
	if r.Err != nil {
		return envelope.Code(r.Err)
	}
	return r.Status
}

type task struct {
	ctx    context.Context
	name   string
	job    Job
	result chan Result
}

// Queue serializes jobs.
type Queue struct {
	tasks chan task
	log   *observability.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New starts a queue holding up to depth waiting jobs.
func New(depth int, log *observability.Logger) *Queue {
	if depth < 1 {
		depth = 1
	}
	if log == nil {
		log = observability.NopLogger()
	}
	q := &Queue{tasks: make(chan task, depth), log: log}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.result(t, q.exec(t))
	}
}

func (q *Queue) exec(t task) Result {
	res := Result{Name: t.name}
	if err := t.ctx.Err(); err != nil {
		res.Err = errors.Join(envelope.ErrTransport, err)
		return res
	}

	start := time.Now()
	res.Status, res.Err = t.job(t.ctx)
	res.Duration = time.Since(start)

	if res.Err != nil {
		q.log.WithOperation(t.name).Error(res.Err, "queued job failed")
	} else {
		q.log.WithOperation(t.name).Debug("queued job finished")
	}
	return res
}

func (q *Queue) result(t task, r Result) {
	t.result <- r
	close(t.result)
}

// Submit enqueues job. The returned channel yields exactly one Result.
// Submit blocks while the queue is full.
func (q *Queue) Submit(ctx context.Context, name string, job Job) <-chan Result {
	out := make(chan Result, 1)

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		out <- Result{Name: name, Err: ErrClosed}
		close(out)
		return out
	}

	select {
	case q.tasks <- task{ctx: ctx, name: name, job: job, result: out}:
	case <-ctx.Done():
		out <- Result{Name: name, Err: errors.Join(envelope.ErrTransport, ctx.Err())}
		close(out)
	}
	return out
}

// Pending returns the number of jobs waiting behind the running one.
func (q *Queue) Pending() int {
	return len(q.tasks)
}

// Close stops accepting jobs, runs the ones already queued and waits for
// the worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
