package engine

import (
	"context"
	"sync"

	"github.com/roach88/psyserve/internal/core"
)

// result is the outcome of one handled request.
type result struct {
	resp core.Response
	err  error
}

// job is a queued request plus the channel its submitter waits on.
type job struct {
	ctx   context.Context
	req   core.Request
	reply chan result // buffered, size 1
}

// requestQueue is a thread-safe FIFO queue of jobs.
//
// Transports enqueue from their connection goroutines while the Engine's
// Run loop dequeues. The queue uses a channel for signaling to enable
// context-aware waiting in the Run loop.
type requestQueue struct {
	mu     sync.Mutex
	jobs   []job
	closed bool
	signal chan struct{} // Signals job availability (buffered, size 1)
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		jobs:   make([]job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a job to the back of the queue.
// Returns false if the queue is closed.
func (q *requestQueue) Enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.jobs = append(q.jobs, j)

	// Non-blocking; a buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (job{}, false) if the queue is empty.
func (q *requestQueue) TryDequeue() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return job{}, false
	}

	j := q.jobs[0]

	// Clear the slot so the request payload can be collected.
	q.jobs[0] = job{}
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}

	return j, true
}

// Wait returns a channel that signals when jobs may be available. It is
// closed by Close.
func (q *requestQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close stops accepting jobs and wakes any waiter. Jobs still queued are
// returned so the caller can fail them.
func (q *requestQueue) Close() []job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.signal)

	rest := q.jobs
	q.jobs = nil
	return rest
}
