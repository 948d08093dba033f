// Package async provides the sequential worker and single-shot tasks used to
// run decoder operations off the caller's goroutine.
package async

import (
	"sync"
)

// Runner executes submitted jobs one at a time, in submission order, on a
// single worker goroutine. Submission never blocks.
type Runner struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	closed  bool
	stopped chan struct{}
}

// NewRunner starts a runner with its own worker goroutine.
func NewRunner() *Runner {
	r := &Runner{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go r.loop()
	return r
}

var (
	defaultOnce   sync.Once
	defaultRunner *Runner
)

// Default returns the process-wide runner. Every decoder that is not given a
// runner explicitly shares it, so all their operations are serialised.
func Default() *Runner {
	defaultOnce.Do(func() {
		defaultRunner = NewRunner()
	})
	return defaultRunner
}

// enqueue appends a job. It reports false if the runner is closed.
func (r *Runner) enqueue(job func()) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.queue = append(r.queue, job)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// Close stops accepting jobs. Jobs already queued still run; Close returns
// once the worker has drained them.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.stopped
		return
	}
	r.closed = true
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	<-r.stopped
}

// Pending returns the number of queued jobs that have not started.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Runner) loop() {
	defer close(r.stopped)
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			if r.closed {
				r.mu.Unlock()
				return
			}
			r.mu.Unlock()
			<-r.wake
			continue
		}
		job := r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]
		r.mu.Unlock()

		job()
	}
}
