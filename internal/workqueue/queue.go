// Package workqueue runs submitted work on a bounded number of goroutines.
//
// A Queue never has more than its degree of items executing at once. Items
// are started in submission order; with degree 1 the queue is a strict
// serial executor. Drain goroutines are started on demand and exit as soon
// as the pending list is empty, so an idle queue holds no goroutines.
package workqueue

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/roseeng/SyncTrayzor/internal/check"
)

// ErrCanceled is the result of a task withdrawn before it started.
var ErrCanceled = errors.New("workqueue: task canceled before start")

// PanicError carries a panic recovered from a work item.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("workqueue: task panicked: %v", e.Value)
}

// Func is one unit of work. The context is the one given to the queue at
// construction; items are never interrupted by the queue itself.
type Func func(ctx context.Context) error

// Queue is a FIFO executor with a maximum degree of parallelism.
type Queue struct {
	ctx    context.Context
	degree int

	mu      sync.Mutex
	pending *list.List // of *Task
	active  int
}

// New returns a queue running at most degree items concurrently.
func New(degree int) *Queue {
	return NewWithContext(context.Background(), degree)
}

// NewWithContext is New with the context passed to every work item.
func NewWithContext(ctx context.Context, degree int) *Queue {
	check.Assertf(degree >= 1, "workqueue.New: degree must be >= 1, got %d", degree)
	if degree < 1 {
		degree = 1
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Queue{
		ctx:     ctx,
		degree:  degree,
		pending: list.New(),
	}
}

// Degree returns the configured maximum number of concurrently running items.
func (q *Queue) Degree() int {
	return q.degree
}

// Submit enqueues fn and returns its completion handle. It never blocks on
// the execution of other items.
func (q *Queue) Submit(fn Func) *Task {
	check.Assert(fn != nil, "workqueue.Submit: fn must not be nil")
	t := &Task{q: q, fn: fn, done: make(chan struct{})}
	if fn == nil {
		t.finish(nil)
		return t
	}

	q.mu.Lock()
	t.elem = q.pending.PushBack(t)
	spawn := q.active < q.degree
	if spawn {
		q.active++
	}
	q.mu.Unlock()

	if spawn {
		go q.drain()
	}
	return t
}

// Len returns the number of queued items that have not started.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Active returns the number of drain goroutines currently alive.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		front := q.pending.Front()
		if front == nil {
			q.active--
			q.mu.Unlock()
			return
		}
		t := q.pending.Remove(front).(*Task)
		t.elem = nil
		t.started = true
		q.mu.Unlock()

		t.finish(t.run(q.ctx))
	}
}

// remove withdraws t if it is still queued. Caller must not hold q.mu.
func (q *Queue) remove(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.started || t.elem == nil {
		return false
	}
	q.pending.Remove(t.elem)
	t.elem = nil
	return true
}

// Task is the completion handle of a submitted work item.
type Task struct {
	q    *Queue
	fn   Func
	done chan struct{}
	err  error

	// guarded by q.mu
	elem    *list.Element
	started bool
}

func (t *Task) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return t.fn(ctx)
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Done is closed once the item has run or was canceled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the item's result. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the item completes or ctx ends, returning the item's
// error or the context error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel withdraws the item if it has not started. It reports whether the
// item was withdrawn; running or finished items are left alone.
func (t *Task) Cancel() bool {
	if t.q == nil || !t.q.remove(t) {
		return false
	}
	t.finish(ErrCanceled)
	return true
}
