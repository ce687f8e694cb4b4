package session

import "context"

// Task is one unit of per-connection work.
type Task func(ctx context.Context) error

// Queue runs the tasks of one connection strictly one after another on its
// own goroutine. Stopping it cancels the context handed to the running task.
type Queue struct {
	ctx     context.Context
	cancel  context.CancelFunc
	tasks   chan Task
	done    chan struct{}
	onError func(error)
}

// NewQueue starts a queue. onError receives every task error returned while
// the queue is still running.
func NewQueue(ctx context.Context, size int, onError func(error)) *Queue {
	if size <= 0 {
		size = 64
	}
	ctx, cancel := context.WithCancel(ctx)
	q := &Queue{
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(chan Task, size),
		done:    make(chan struct{}),
		onError: onError,
	}
	go q.run()
	return q
}

// Push queues t behind every earlier task. It reports false once the queue
// has been stopped.
func (q *Queue) Push(t Task) bool {
	select {
	case <-q.ctx.Done():
		return false
	default:
	}
	select {
	case q.tasks <- t:
		return true
	case <-q.ctx.Done():
		return false
	}
}

// Stop cancels the running task and ends the queue. Pending tasks are dropped.
func (q *Queue) Stop() { q.cancel() }

// Done is closed when the queue goroutine has exited.
func (q *Queue) Done() <-chan struct{} { return q.done }

func (q *Queue) run() {
	defer close(q.done)

	for {
		select {
		case t := <-q.tasks:
			err := t(q.ctx)
			if q.ctx.Err() != nil {
				return
			}
			if err != nil && q.onError != nil {
				q.onError(err)
			}
		case <-q.ctx.Done():
			return
		}
	}
}
