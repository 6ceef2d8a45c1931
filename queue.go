package goftp

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// defaultQueueSize bounds how many tasks can wait before Run blocks.
const defaultQueueSize = 64

// TaskQueue runs submitted tasks one at a time, in submission order, on a
// single worker goroutine. A failing task never blocks the ones behind it;
// its error goes only to its own submitter.
type TaskQueue struct {
	tasks chan *task

	mu     sync.RWMutex
	closed bool

	done chan struct{}
}

type task struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// NewTaskQueue starts a queue whose backlog holds up to size tasks.
func NewTaskQueue(size int) *TaskQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	q := &TaskQueue{
		tasks: make(chan *task, size),
		done:  make(chan struct{}),
	}
	go q.worker()
	return q
}

func (q *TaskQueue) worker() {
	defer close(q.done)
	for t := range q.tasks {
		// A task abandoned while it waited never touches the session.
		if err := t.ctx.Err(); err != nil {
			t.result <- err
			continue
		}
		t.result <- t.run()
	}
}

// run calls the task, turning a panic into its error so the worker
// survives to serve the tasks behind it.
func (t *task) run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrTaskPanicked, r, debug.Stack())
		}
	}()
	return t.fn(t.ctx)
}

// Run enqueues fn and waits for it to finish. Once a task is accepted it
// always runs to completion; ctx is only checked before it starts.
func (q *TaskQueue) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	t := &task{
		ctx:    ctx,
		fn:     fn,
		result: make(chan error, 1),
	}

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	select {
	case q.tasks <- t:
	case <-ctx.Done():
		q.mu.RUnlock()
		return ctx.Err()
	}
	q.mu.RUnlock()

	return <-t.result
}

// Close stops accepting tasks and waits for queued ones to finish.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	<-q.done
}

