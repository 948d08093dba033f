package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/user/subscale/pkg/regionerr"
)

// ErrRunnerClosed is returned by tasks submitted to a closed runner.
var ErrRunnerClosed = errors.New("async: runner closed")

// Task is the single-shot result of an asynchronous operation. It settles
// exactly once with a value, an error, or cancellation.
type Task[T any] struct {
	ctx       context.Context
	cancel    context.CancelFunc
	stopAfter func() bool
	started   atomic.Bool
	done      chan struct{}

	mu      sync.Mutex
	settled bool
	value   T
	err     error
	subs    []subscriber[T]
}

type subscriber[T any] struct {
	sub     *Subscription
	onValue func(T)
	onError func(error)
}

// Subscription is a listener attached with Task.Subscribe.
type Subscription struct {
	mu        sync.Mutex
	disposed  bool
	delivered bool
}

// Dispose detaches the listener. A listener disposed before the task settles
// is never called.
func (s *Subscription) Dispose() {
	s.mu.Lock()
	s.disposed = true
	s.mu.Unlock()
}

// Disposed reports whether Dispose has been called.
func (s *Subscription) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func newTask[T any](parent context.Context) *Task[T] {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	t := &Task[T]{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	// A task cancelled while still queued settles right away; the worker
	// skips it when it gets there.
	t.mu.Lock()
	t.stopAfter = context.AfterFunc(ctx, func() {
		if t.started.CompareAndSwap(false, true) {
			var zero T
			t.settle(zero, nil)
		}
	})
	t.mu.Unlock()
	return t
}

// Submit queues fn on the runner. fn receives a context that is cancelled when
// the caller's context is cancelled or Task.Cancel is called.
func Submit[T any](ctx context.Context, r *Runner, fn func(ctx context.Context) (T, error)) *Task[T] {
	t := newTask[T](ctx)
	if !r.enqueue(func() { t.run(fn) }) {
		var zero T
		t.started.Store(true)
		t.settle(zero, ErrRunnerClosed)
	}
	return t
}

// Go runs fn on its own goroutine. Use it to compose tasks that wait on other
// runner tasks, which must never happen on the runner itself.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Task[T] {
	t := newTask[T](ctx)
	go t.run(fn)
	return t
}

// Completed returns a task already settled with v.
func Completed[T any](v T) *Task[T] {
	t := newTask[T](context.Background())
	t.started.Store(true)
	t.settle(v, nil)
	return t
}

// Failed returns a task already settled with err.
func Failed[T any](err error) *Task[T] {
	t := newTask[T](context.Background())
	t.started.Store(true)
	var zero T
	t.settle(zero, err)
	return t
}

func (t *Task[T]) run(fn func(ctx context.Context) (T, error)) {
	if !t.started.CompareAndSwap(false, true) {
		return
	}

	var zero T
	if t.ctx.Err() != nil {
		t.settle(zero, nil)
		return
	}

	defer func() {
		if p := recover(); p != nil {
			t.settle(zero, fmt.Errorf("async: task panicked: %v", p))
		}
	}()

	v, err := fn(t.ctx)
	t.settle(v, err)
}

// settle records the outcome once. A task whose context is already cancelled
// settles as cancelled whatever fn returned, so a late result is dropped.
func (t *Task[T]) settle(v T, err error) {
	t.mu.Lock()
	if t.settled {
		t.mu.Unlock()
		return
	}
	if cause := t.ctx.Err(); cause != nil {
		var zero T
		v = zero
		err = fmt.Errorf("%w: %w", regionerr.ErrCancelled, cause)
	}
	t.value, t.err, t.settled = v, err, true
	subs := t.subs
	t.subs = nil
	stop := t.stopAfter
	t.mu.Unlock()

	close(t.done)
	stop()
	t.cancel()

	for _, s := range subs {
		t.notify(s)
	}
}

func (t *Task[T]) notify(s subscriber[T]) {
	if errors.Is(t.err, regionerr.ErrCancelled) {
		return
	}

	s.sub.mu.Lock()
	if s.sub.disposed || s.sub.delivered {
		s.sub.mu.Unlock()
		return
	}
	s.sub.delivered = true
	s.sub.mu.Unlock()

	if t.err != nil {
		if s.onError != nil {
			s.onError(t.err)
		}
		return
	}
	if s.onValue != nil {
		s.onValue(t.value)
	}
}

// Subscribe registers listeners for the terminal event. At most one of them is
// called, at most once. Nothing is delivered for a cancelled task or after the
// returned subscription is disposed. If the task has already settled the
// listener runs before Subscribe returns.
func (t *Task[T]) Subscribe(onValue func(T), onError func(error)) *Subscription {
	s := subscriber[T]{sub: &Subscription{}, onValue: onValue, onError: onError}

	t.mu.Lock()
	if !t.settled {
		t.subs = append(t.subs, s)
		t.mu.Unlock()
		return s.sub
	}
	t.mu.Unlock()

	t.notify(s)
	return s.sub
}

// Wait blocks until the task settles or ctx is done. Abandoning a wait does
// not cancel the task; call Cancel for that.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %w", regionerr.ErrCancelled, ctx.Err())
	}
}

// Done is closed once the task settles.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Cancel signals that the result is no longer wanted. It has no effect on a
// task that has already settled.
func (t *Task[T]) Cancel() {
	t.cancel()
}
